package models

import "time"

// MemoryProfile is the rolling per-user profile the synthesizer folds
// each completed turn into. At most one row per user.
type MemoryProfile struct {
	UserID    int64     `json:"user_id"`
	Profile   string    `json:"profile"`
	UpdatedAt time.Time `json:"updated_at"`
}
