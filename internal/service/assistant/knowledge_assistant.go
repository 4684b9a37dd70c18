package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"assistberry/internal/models"
)

// Knowledge entries are stored as model messages inside a per-user sentinel
// session titled models.KnowledgeBaseTitle. The title is embedded in the
// content so a single row carries the whole entry.

var knowledgeTitlePattern = regexp.MustCompile(`^\*\*\[System Knowledge: (.+?)\]\*\*`)

// KnowledgeEntry is one ingested document.
type KnowledgeEntry struct {
	MessageID int64     `json:"message_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// EnsureKnowledgeSession finds the user's knowledge base session, creating
// it on first use.
func (s *Service) EnsureKnowledgeSession(ctx context.Context, userID int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, summary, created_at FROM sessions
		 WHERE user_id = ? AND title = ?`, userID, models.KnowledgeBaseTitle)

	var sess models.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Summary, &sess.CreatedAt)
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: query knowledge session: %v", models.ErrStorage, err)
	}
	return s.CreateSession(ctx, userID, models.KnowledgeBaseTitle)
}

// IngestKnowledge stores a document in the knowledge base and indexes it for
// full-text search.
func (s *Service) IngestKnowledge(ctx context.Context, userID int64, title, body string) (*models.Message, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || body == "" {
		return nil, fmt.Errorf("%w: title and content are required", models.ErrInvalidInput)
	}

	sess, err := s.EnsureKnowledgeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	msg := models.Message{
		SessionID: sess.ID,
		Role:      models.RoleModel,
		Content:   fmt.Sprintf("**[System Knowledge: %s]**\n%s", title, body),
	}
	return s.AddMessage(ctx, msg, true)
}

// ListKnowledge returns the user's knowledge entries, newest first. Titles
// come from the embedded header; entries written without one fall back to a
// truncated slice of the content.
func (s *Service) ListKnowledge(ctx context.Context, userID int64) ([]KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.content, m.created_at
		 FROM messages m JOIN sessions se ON m.session_id = se.id
		 WHERE se.user_id = ? AND se.title = ?
		 ORDER BY m.created_at DESC, m.id DESC`,
		userID, models.KnowledgeBaseTitle,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list knowledge: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var entries []KnowledgeEntry
	for rows.Next() {
		var (
			entry   KnowledgeEntry
			content string
		)
		if err := rows.Scan(&entry.MessageID, &content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan knowledge: %v", models.ErrStorage, err)
		}
		if m := knowledgeTitlePattern.FindStringSubmatch(content); m != nil {
			entry.Title = m[1]
		} else {
			entry.Title = truncate(content, 60)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteKnowledgeEntry removes one entry the user owns, index entry included.
func (s *Service) DeleteKnowledgeEntry(ctx context.Context, userID, messageID int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx,
		`SELECT se.user_id FROM messages m JOIN sessions se ON m.session_id = se.id
		 WHERE m.id = ? AND se.title = ?`,
		messageID, models.KnowledgeBaseTitle).Scan(&owner)
	if err != nil {
		return models.ErrNotFound
	}
	if owner != userID {
		return models.ErrNotFound
	}
	return s.DeleteMessage(ctx, messageID)
}

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}
