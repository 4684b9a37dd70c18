// Package chat orchestrates a conversation turn: it assembles the model
// context from the store, calls the collaborator, persists both sides of
// the exchange and queues the background follow-ups.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assistberry/internal/content"
	"assistberry/internal/models"
	"assistberry/internal/service/assistant"
	"assistberry/internal/worker"

	"go.uber.org/zap"
)

// degradedReply is persisted as the model turn when the collaborator fails,
// so the conversation record stays consistent and the turn still succeeds.
const degradedReply = "I couldn't generate a response just now. Please try again."

const titleSeedLimit = 40

// Endpoint is the collaborator surface the chat flow needs.
type Endpoint interface {
	Generate(ctx context.Context, system string, turns []models.Turn) (*models.Reply, error)
	Summarize(ctx context.Context, prompt string) (string, error)
	TitleOf(ctx context.Context, seed string) (string, error)
}

// ImageEndpoint generates images, available on providers that support it.
type ImageEndpoint interface {
	GenerateImage(ctx context.Context, prompt string, refs []models.Attachment) (*models.Attachment, error)
}

// Request is one incoming conversation turn. In custom persona mode the
// text of the session's first user turn becomes the pinned persona.
type Request struct {
	Caller      models.Caller
	SessionID   int64
	Text        string
	Attachments []models.Attachment
	PersonaMode string
	Pro         bool
}

// Response carries the persisted exchange back to the transport layer.
type Response struct {
	UserMessage  models.Message `json:"user_message"`
	ModelMessage models.Message `json:"model_message"`
	Degraded     bool           `json:"degraded,omitempty"`
}

// Service wires the store, the collaborator endpoints and the background
// dispatcher together.
type Service struct {
	store       *assistant.Service
	endpoint    Endpoint
	proEndpoint Endpoint
	images      ImageEndpoint
	jobs        *worker.Dispatcher
	logger      *zap.Logger
}

// NewService builds the chat orchestrator. proEndpoint and images may be
// nil; the corresponding routes then degrade to the standard endpoint or an
// error.
func NewService(store *assistant.Service, endpoint, proEndpoint Endpoint, images ImageEndpoint, jobs *worker.Dispatcher, logger *zap.Logger) *Service {
	if proEndpoint == nil {
		proEndpoint = endpoint
	}
	return &Service{
		store:       store,
		endpoint:    endpoint,
		proEndpoint: proEndpoint,
		images:      images,
		jobs:        jobs,
		logger:      logger,
	}
}

// Respond executes one conversation turn end to end.
func (s *Service) Respond(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: empty turn", models.ErrInvalidInput)
	}

	sess, err := s.store.GetSession(ctx, req.Caller.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	turns, err := BuildTurns(history, text, req.Attachments)
	if err != nil {
		return nil, err
	}

	indexed := req.Caller.IsAdmin()
	userMsg, err := s.store.AddMessage(ctx, models.Message{
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   storedContent(text, req.Attachments),
	}, indexed)
	if err != nil {
		return nil, err
	}

	memory, err := s.store.GetMemory(ctx, req.Caller.UserID)
	if err != nil {
		return nil, err
	}
	persona, err := s.resolvePersona(ctx, sess.ID, sess.Persona, req.PersonaMode, text)
	if err != nil {
		return nil, err
	}
	system := ComposeSystem(persona, time.Now(), memory)

	endpoint := s.endpoint
	if req.Pro && req.Caller.AllowPro {
		endpoint = s.proEndpoint
	}

	degraded := false
	reply, err := endpoint.Generate(ctx, system, turns)
	if err != nil {
		s.logger.Warn("collaborator failed, persisting degraded reply",
			zap.Int64("session_id", sess.ID), zap.Error(err))
		reply = &models.Reply{Text: degradedReply}
		degraded = true
	}

	modelMsg, err := s.store.AddMessage(ctx, models.Message{
		SessionID: sess.ID,
		Role:      models.RoleModel,
		Content:   reply.Text,
	}, indexed)
	if err != nil {
		return nil, err
	}

	if !degraded {
		s.queueMemoryUpdate(req.Caller.UserID, userMsg.Content, reply.Text)
	}
	if sess.Title == models.DefaultSessionTitle {
		s.queueTitleUpdate(req.Caller.UserID, sess.ID, userMsg.Content)
	}

	return &Response{UserMessage: *userMsg, ModelMessage: *modelMsg, Degraded: degraded}, nil
}

// GenerateImage runs the image route: the prompt and the rendered result
// both land in the conversation, the image as an inline markdown fragment.
func (s *Service) GenerateImage(ctx context.Context, req Request) (*Response, error) {
	if s.images == nil {
		return nil, fmt.Errorf("%w: image generation is not configured", models.ErrCollaborator)
	}
	if !req.Caller.AllowImage && !req.Caller.IsAdmin() {
		return nil, fmt.Errorf("%w: image generation is not enabled for this account", models.ErrInvalidInput)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: prompt is required", models.ErrInvalidInput)
	}

	sess, err := s.store.GetSession(ctx, req.Caller.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	indexed := req.Caller.IsAdmin()
	userMsg, err := s.store.AddMessage(ctx, models.Message{
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   storedContent(text, req.Attachments),
	}, indexed)
	if err != nil {
		return nil, err
	}

	att, err := s.images.GenerateImage(ctx, text, req.Attachments)
	if err != nil {
		return nil, err
	}
	modelMsg, err := s.store.AddMessage(ctx, models.Message{
		SessionID: sess.ID,
		Role:      models.RoleModel,
		Content:   content.DataURI(*att),
	}, indexed)
	if err != nil {
		return nil, err
	}

	if sess.Title == models.DefaultSessionTitle {
		s.queueTitleUpdate(req.Caller.UserID, sess.ID, userMsg.Content)
	}
	return &Response{UserMessage: *userMsg, ModelMessage: *modelMsg}, nil
}

// storedContent picks what to persist for the user turn: the text when
// present, otherwise deterministic placeholders for the raw attachments.
func storedContent(text string, atts []models.Attachment) string {
	if text != "" {
		return text
	}
	parts := make([]string, 0, len(atts))
	for _, att := range atts {
		parts = append(parts, content.AttachmentPlaceholder(att))
	}
	return strings.Join(parts, "\n")
}

// queueMemoryUpdate schedules a profile synthesis. Jobs for the same user
// share a queue key, so updates never interleave and the last exchange
// always wins.
func (s *Service) queueMemoryUpdate(userID int64, userText, modelText string) {
	s.jobs.Submit(worker.Job{
		Key: fmt.Sprintf("user:%d", userID),
		Run: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			current, err := s.store.GetMemory(ctx, userID)
			if err != nil {
				s.logger.Warn("memory read failed", zap.Int64("user_id", userID), zap.Error(err))
				return
			}
			updated, err := s.endpoint.Summarize(ctx, memoryPrompt(current, userText, modelText))
			if err != nil {
				s.logger.Warn("memory synthesis failed", zap.Int64("user_id", userID), zap.Error(err))
				return
			}
			if updated == "" {
				return
			}
			if err := s.store.UpsertMemory(ctx, userID, updated); err != nil {
				s.logger.Warn("memory write failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		},
	})
}

// queueTitleUpdate schedules a one-time title generation. Jobs for the same
// session share a queue key and the job re-checks the title before writing,
// so two racing turns produce at most one rename.
func (s *Service) queueTitleUpdate(userID, sessionID int64, seed string) {
	s.jobs.Submit(worker.Job{
		Key: fmt.Sprintf("session:%d", sessionID),
		Run: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			sess, err := s.store.GetSession(ctx, userID, sessionID)
			if err != nil {
				s.logger.Warn("title session read failed", zap.Int64("session_id", sessionID), zap.Error(err))
				return
			}
			if sess.Title != models.DefaultSessionTitle {
				return
			}

			title, err := s.endpoint.TitleOf(ctx, seed)
			if err != nil {
				s.logger.Warn("title generation failed, falling back to seed",
					zap.Int64("session_id", sessionID), zap.Error(err))
				title = fallbackTitle(seed)
			}
			if title == "" {
				return
			}
			if err := s.store.UpdateSessionTitle(ctx, userID, sessionID, title); err != nil {
				s.logger.Warn("title write failed", zap.Int64("session_id", sessionID), zap.Error(err))
			}
		},
	})
}

func fallbackTitle(seed string) string {
	seed = strings.TrimSpace(content.StripInlineMedia(seed))
	runes := []rune(seed)
	if len(runes) > titleSeedLimit {
		return string(runes[:titleSeedLimit]) + "…"
	}
	return seed
}
