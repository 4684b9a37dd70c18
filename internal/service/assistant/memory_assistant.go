package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"assistberry/internal/models"
)

// GetMemory returns the user's synthesized profile, or an empty string when
// none has been written yet.
func (s *Service) GetMemory(ctx context.Context, userID int64) (string, error) {
	var profile string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_data FROM user_memories WHERE user_id = ?`, userID).Scan(&profile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("%w: query memory: %v", models.ErrStorage, err)
	}
	return profile, nil
}

// UpsertMemory replaces the user's profile in one statement. Serialization
// of writers for the same user is the caller's job; the last write wins.
func (s *Service) UpsertMemory(ctx context.Context, userID int64, profile string) error {
	if userID <= 0 {
		return fmt.Errorf("%w: invalid user id", models.ErrInvalidInput)
	}
	profile = strings.TrimSpace(profile)
	now := time.Now().UTC()

	var stmt string
	if s.driver == "mysql" {
		stmt = `INSERT INTO user_memories (user_id, profile_data, updated_at) VALUES (?, ?, ?)
		        ON DUPLICATE KEY UPDATE profile_data = VALUES(profile_data), updated_at = VALUES(updated_at)`
	} else {
		stmt = `INSERT INTO user_memories (user_id, profile_data, updated_at) VALUES (?, ?, ?)
		        ON CONFLICT(user_id) DO UPDATE SET profile_data = excluded.profile_data, updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, stmt, userID, profile, now); err != nil {
		return fmt.Errorf("%w: upsert memory: %v", models.ErrStorage, err)
	}
	return nil
}
