package models

import "time"

const (
	// DefaultSessionTitle marks a session whose title has not been
	// generated yet.
	DefaultSessionTitle = "New Analysis"

	// KnowledgeBaseTitle is the sentinel title of the one reserved
	// per-user session holding curated knowledge. It never shows up in
	// ordinary listings or in the retention sweep.
	KnowledgeBaseTitle = "Knowledge Base"
)

// Session groups the ordered turns of one conversation.
//
// Summary is a reserved column no code path populates yet; it is carried
// so existing databases keep working. Persona caches the resolved custom
// persona text: once set it is fixed for the session's lifetime.
type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Persona   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
