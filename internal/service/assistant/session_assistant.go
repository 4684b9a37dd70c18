package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"assistberry/internal/content"
	"assistberry/internal/models"
)

// CreateSession opens a fresh conversation for the user.
func (s *Service) CreateSession(ctx context.Context, userID int64, title string) (*models.Session, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: invalid user id", models.ErrInvalidInput)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultSessionTitle
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, title, summary, persona, created_at) VALUES (?, ?, '', '', ?)`,
		userID, title, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", models.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: session id: %v", models.ErrStorage, err)
	}
	return &models.Session{ID: id, UserID: userID, Title: title, CreatedAt: now}, nil
}

// ListSessions returns the user's conversations, newest first. The knowledge
// base sentinel session never shows up here.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, summary, created_at FROM sessions
		 WHERE user_id = ? AND title != ? ORDER BY created_at DESC, id DESC`,
		userID, models.KnowledgeBaseTitle,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Summary, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", models.ErrStorage, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession loads one session the user owns. A session that exists but
// belongs to someone else is reported exactly like one that does not exist.
func (s *Service) GetSession(ctx context.Context, userID, sessionID int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, summary, persona, created_at FROM sessions
		 WHERE id = ? AND user_id = ?`, sessionID, userID)

	var sess models.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Summary, &sess.Persona, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: query session: %v", models.ErrStorage, err)
	}
	return &sess, nil
}

// ListMessages returns a session's messages in conversation order. Rows
// sharing a timestamp fall back to insertion order via the surrogate id.
func (s *Service) ListMessages(ctx context.Context, sessionID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", models.ErrStorage, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// AddMessage persists one message. When indexed is set, a sanitized copy of
// the content lands in the search index inside the same transaction, so the
// message table and the index can never disagree about what was stored.
func (s *Service) AddMessage(ctx context.Context, msg models.Message, indexed bool) (*models.Message, error) {
	if msg.SessionID <= 0 {
		return nil, fmt.Errorf("%w: message needs a session", models.ErrInvalidInput)
	}
	if msg.Role != models.RoleUser && msg.Role != models.RoleModel {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert message: %v", models.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: message id: %v", models.ErrStorage, err)
	}
	msg.ID = id

	if indexed {
		var (
			owner int64
			title string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, title FROM sessions WHERE id = ?`, msg.SessionID).Scan(&owner, &title)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("%w: query session for index: %v", models.ErrStorage, err)
		}
		if _, err := tx.ExecContext(ctx, s.indexInsertSQL(),
			id, content.StripInlineMedia(msg.Content), owner, title); err != nil {
			return nil, fmt.Errorf("%w: index message: %v", models.ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit message: %v", models.ErrStorage, err)
	}
	return &msg, nil
}

// DeleteMessage removes one message together with its index entry, if any.
func (s *Service) DeleteMessage(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.indexDeleteSQL(), id); err != nil {
		return fmt.Errorf("%w: delete index entry: %v", models.ErrStorage, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete message: %v", models.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", models.ErrStorage, err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", models.ErrStorage, err)
	}
	return nil
}

// DeleteSession removes a session with its messages. Index entries go with
// it unless dropIndex is false, which leaves the indexed content searchable
// for knowledge queries after the conversation itself is gone.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID int64, dropIndex bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	var owner int64
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		return fmt.Errorf("%w: query session owner: %v", models.ErrStorage, err)
	}
	if owner != userID {
		return models.ErrNotFound
	}

	if dropIndex {
		if _, err := tx.ExecContext(ctx, s.indexDeleteBySessionSQL(), sessionID); err != nil {
			return fmt.Errorf("%w: delete index entries: %v", models.ErrStorage, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete messages: %v", models.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete session: %v", models.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete session: %v", models.ErrStorage, err)
	}
	return nil
}

// ClearSessions wipes every conversation the user owns, the knowledge base
// sentinel included, along with all of the user's index entries. A fresh
// sentinel is recreated on the next knowledge ingest.
func (s *Service) ClearSessions(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.indexDeleteByUserSQL(), userID); err != nil {
		return fmt.Errorf("%w: delete index entries: %v", models.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE user_id = ?)`,
		userID); err != nil {
		return fmt.Errorf("%w: delete messages: %v", models.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`,
		userID); err != nil {
		return fmt.Errorf("%w: delete sessions: %v", models.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit clear: %v", models.ErrStorage, err)
	}
	return nil
}

// UpdateSessionTitle renames a session the user owns.
func (s *Service) UpdateSessionTitle(ctx context.Context, userID, sessionID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ? AND user_id = ?`,
		title, sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("%w: update title: %v", models.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", models.ErrStorage, err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetSessionPersona pins a persona on the session if none is set yet. The
// guard clause makes concurrent writers race safely: the first write wins
// and the stored value is re-read so every caller sees the winner.
func (s *Service) SetSessionPersona(ctx context.Context, sessionID int64, persona string) (string, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET persona = ? WHERE id = ? AND persona = ''`,
		persona, sessionID,
	); err != nil {
		return "", fmt.Errorf("%w: set persona: %v", models.ErrStorage, err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT persona FROM sessions WHERE id = ?`, sessionID).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("%w: read persona: %v", models.ErrStorage, err)
	}
	return stored, nil
}
