package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"assistberry/internal/models"
	"assistberry/internal/service/assistant"
)

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if users == nil {
		users = make([]models.User, 0)
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) updateUserAccess(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsApproved bool `json:"is_approved"`
		AllowPro   bool `json:"allow_pro"`
		AllowImage bool `json:"allow_image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.store.UpdateUserAccess(c.Request.Context(), id, req.IsApproved, req.AllowPro, req.AllowImage); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if id == caller.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete own account"})
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.store.DeleteUser(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ingestKnowledge(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, err := h.store.IngestKnowledge(c.Request.Context(), caller.UserID, req.Title, req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": msg.ID})
}

func (h *Handler) listKnowledge(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	entries, err := h.store.ListKnowledge(c.Request.Context(), caller.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = make([]assistant.KnowledgeEntry, 0)
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) deleteKnowledgeEntry(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteKnowledgeEntry(c.Request.Context(), caller.UserID, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
