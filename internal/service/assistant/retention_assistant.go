package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"assistberry/internal/models"
	"assistberry/internal/redis"

	"go.uber.org/zap"
)

const retentionPendingTTL = 24 * time.Hour

// ListExpiredSessions returns the user's sessions older than the retention
// horizon, newest first. The knowledge base sentinel never expires.
func (s *Service) ListExpiredSessions(ctx context.Context, userID int64, horizon time.Duration) ([]models.Session, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive", models.ErrInvalidInput)
	}
	cutoff := time.Now().UTC().Add(-horizon)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, summary, created_at FROM sessions
		 WHERE user_id = ? AND title != ? AND created_at < ?
		 ORDER BY created_at DESC, id DESC`,
		userID, models.KnowledgeBaseTitle, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Summary, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan expired: %v", models.ErrStorage, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CleanupSessions deletes the confirmed sessions and reports how many went.
// Ids the user does not own are skipped, not errored, so a stale
// confirmation list stays harmless; the knowledge base sentinel is skipped
// too, even when its id is confirmed. Admin deletions keep the index entries
// alive for knowledge search; regular deletions drop them.
func (s *Service) CleanupSessions(ctx context.Context, userID int64, role string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	dropIndex := role != models.UserRoleAdmin

	deleted := 0
	for _, id := range ids {
		var title string
		err := s.db.QueryRowContext(ctx,
			`SELECT title FROM sessions WHERE id = ? AND user_id = ?`, id, userID).Scan(&title)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return deleted, fmt.Errorf("%w: query session title: %v", models.ErrStorage, err)
		}
		if title == models.KnowledgeBaseTitle {
			continue
		}
		if err := s.DeleteSession(ctx, userID, id, dropIndex); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// StartRetentionSweeper runs a background loop that periodically flags users
// with expired sessions in the cache, where the API layer picks the flag up
// to prompt for cleanup confirmation. It never deletes anything on its own.
func (s *Service) StartRetentionSweeper(ctx context.Context, interval, horizon time.Duration, cache *redis.Client) {
	if interval <= 0 || horizon <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOnce(ctx, horizon, cache)
			}
		}
	}()
}

func (s *Service) sweepOnce(ctx context.Context, horizon time.Duration, cache *redis.Client) {
	cutoff := time.Now().UTC().Add(-horizon)
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, COUNT(*) FROM sessions
		 WHERE title != ? AND created_at < ?
		 GROUP BY user_id`,
		models.KnowledgeBaseTitle, cutoff,
	)
	if err != nil {
		s.logger.Warn("retention sweep query failed", zap.Error(err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID int64
			count  int
		)
		if err := rows.Scan(&userID, &count); err != nil {
			s.logger.Warn("retention sweep scan failed", zap.Error(err))
			return
		}
		key := fmt.Sprintf("retention:pending:%d", userID)
		if err := cache.Set(ctx, key, fmt.Sprintf("%d", count), retentionPendingTTL); err != nil {
			s.logger.Warn("retention flag write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("retention sweep failed", zap.Error(err))
	}
}

// PendingRetention reports how many of the user's sessions the last sweep
// found expired, zero when none are flagged.
func (s *Service) PendingRetention(ctx context.Context, userID int64, cache *redis.Client) (string, error) {
	val, err := cache.Get(ctx, fmt.Sprintf("retention:pending:%d", userID))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}
