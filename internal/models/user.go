package models

import "time"

// User roles. Admin-authored messages are projected into the search
// index; everyone else's are not.
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

// User is an account row. AllowPro gates the extended model, AllowImage
// gates image generation.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsApproved   bool      `json:"is_approved"`
	AllowPro     bool      `json:"allow_pro"`
	AllowImage   bool      `json:"allow_image"`
	CreatedAt    time.Time `json:"created_at"`
}

// Caller is the per-request authorization context the core trusts. It is
// produced by the auth middleware; no component below it re-checks
// credentials.
type Caller struct {
	UserID     int64
	Role       string
	AllowPro   bool
	AllowImage bool
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool {
	return c.Role == UserRoleAdmin
}
