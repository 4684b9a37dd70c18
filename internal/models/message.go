package models

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn stored in a session's history. Content may embed
// inline media as a data-URI markdown fragment; canonical conversation
// order is (created_at, id) within a session.
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is a binary part of an incoming or generated turn, kept
// in memory only and never written to disk.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Turn is one entry of the assembled model input.
type Turn struct {
	Role        Role
	Text        string
	Attachments []Attachment
}

// Reply is what the model endpoint produced for a turn.
type Reply struct {
	Text        string
	Attachments []Attachment
}
