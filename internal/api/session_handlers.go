package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"assistberry/internal/models"
	"assistberry/internal/service/assistant"
	"assistberry/internal/service/chat"
)

func (h *Handler) listSessions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	sessions, err := h.store.ListSessions(c.Request.Context(), caller.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"session_list": sessions})
}

func (h *Handler) createSession(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sess, err := h.store.CreateSession(c.Request.Context(), caller.UserID, req.Title)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) clearSessions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.store.ClearSessions(c.Request.Context(), caller.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "session_id")
	if !ok {
		return
	}
	dropIndex := !caller.IsAdmin()
	if err := h.store.DeleteSession(c.Request.Context(), caller.UserID, sessionID, dropIndex); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMessages(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	sessionID, ok := pathID(c, "session_id")
	if !ok {
		return
	}
	// Ownership gate before touching the history.
	if _, err := h.store.GetSession(c.Request.Context(), caller.UserID, sessionID); err != nil {
		h.writeError(c, err)
		return
	}
	msgs, err := h.store.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type chatRequest struct {
	SessionID   int64               `json:"session_id"`
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments"`
	PersonaMode string              `json:"persona_mode"`
	Pro         bool                `json:"pro"`
}

func (h *Handler) respond(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	resp, err := h.chat.Respond(c.Request.Context(), chat.Request{
		Caller:      caller,
		SessionID:   req.SessionID,
		Text:        req.Text,
		Attachments: req.Attachments,
		PersonaMode: req.PersonaMode,
		Pro:         req.Pro,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) generateImage(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	resp, err := h.chat.GenerateImage(c.Request.Context(), chat.Request{
		Caller:      caller,
		SessionID:   req.SessionID,
		Text:        req.Text,
		Attachments: req.Attachments,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) searchKnowledge(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	hits, err := h.store.SearchKnowledge(c.Request.Context(), caller.UserID, c.Query("q"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if hits == nil {
		hits = make([]assistant.SearchHit, 0)
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (h *Handler) listExpiredSessions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	sessions, err := h.store.ListExpiredSessions(c.Request.Context(), caller.UserID, h.retention)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"expired": sessions})
}

func (h *Handler) confirmRetention(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req struct {
		SessionIDs []int64 `json:"session_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	deleted, err := h.store.CleanupSessions(c.Request.Context(), caller.UserID, caller.Role, req.SessionIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.cache != nil {
		_ = h.cache.Del(c.Request.Context(), "retention:pending:"+strconv.FormatInt(caller.UserID, 10))
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
