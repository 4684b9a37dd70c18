package assistant

import (
	"context"
	"fmt"
	"strings"

	"assistberry/internal/models"
)

// SearchHit is one indexed message matching a knowledge query.
type SearchHit struct {
	MessageID int64  `json:"message_id"`
	SessionID int64  `json:"session_id"`
	Title     string `json:"session_title"`
	Snippet   string `json:"snippet"`
}

// The index lives in an FTS4 virtual table on sqlite (docid mirrors the
// message id) and a plain table with a FULLTEXT key on mysql. All writes go
// through these helpers so the two shapes stay interchangeable. Each entry
// carries the owner id and the session title at indexing time: preserved
// entries stay attributable after their message and session are pruned.

func (s *Service) indexInsertSQL() string {
	if s.driver == "mysql" {
		return `INSERT INTO search_index (message_id, content, user_id, session_title) VALUES (?, ?, ?, ?)`
	}
	return `INSERT INTO search_index (docid, content, user_id, session_title) VALUES (?, ?, ?, ?)`
}

func (s *Service) indexDeleteSQL() string {
	if s.driver == "mysql" {
		return `DELETE FROM search_index WHERE message_id = ?`
	}
	return `DELETE FROM search_index WHERE docid = ?`
}

func (s *Service) indexDeleteBySessionSQL() string {
	if s.driver == "mysql" {
		return `DELETE FROM search_index WHERE message_id IN (SELECT id FROM messages WHERE session_id = ?)`
	}
	return `DELETE FROM search_index WHERE docid IN (SELECT id FROM messages WHERE session_id = ?)`
}

func (s *Service) indexDeleteByUserSQL() string {
	return `DELETE FROM search_index WHERE user_id = ?`
}

// SearchKnowledge runs a full-text query over the user's indexed messages.
// Terms are OR-joined so partial matches still surface a document.
func (s *Service) SearchKnowledge(ctx context.Context, userID int64, query string) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", models.ErrInvalidInput)
	}

	if s.driver == "mysql" {
		return s.searchMySQL(ctx, userID, query)
	}
	return s.searchSQLite(ctx, userID, query)
}

func (s *Service) searchSQLite(ctx context.Context, userID int64, query string) ([]SearchHit, error) {
	match := strings.Join(cleanTerms(query), " OR ")
	if match == "" {
		return nil, fmt.Errorf("%w: query has no searchable terms", models.ErrInvalidInput)
	}

	// Left joins keep preserved entries searchable after their message and
	// session rows are gone; the stored title stands in for the live one.
	rows, err := s.db.QueryContext(ctx,
		`SELECT search_index.docid, COALESCE(m.session_id, 0),
		        COALESCE(se.title, search_index.session_title),
		        snippet(search_index, '<b>', '</b>', '…', -1, 24)
		 FROM search_index
		 LEFT JOIN messages m ON m.id = search_index.docid
		 LEFT JOIN sessions se ON se.id = m.session_id
		 WHERE search_index.user_id = ? AND search_index MATCH ?
		 ORDER BY search_index.docid DESC LIMIT 50`,
		userID, match,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", models.ErrStorage, err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func (s *Service) searchMySQL(ctx context.Context, userID int64, query string) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT si.message_id, COALESCE(m.session_id, 0),
		        COALESCE(se.title, si.session_title), LEFT(si.content, 200)
		 FROM search_index si
		 LEFT JOIN messages m ON m.id = si.message_id
		 LEFT JOIN sessions se ON se.id = m.session_id
		 WHERE si.user_id = ? AND MATCH(si.content) AGAINST(? IN NATURAL LANGUAGE MODE)
		 ORDER BY si.message_id DESC LIMIT 50`,
		userID, query,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", models.ErrStorage, err)
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]SearchHit, error) {
	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.MessageID, &h.SessionID, &h.Title, &h.Snippet); err != nil {
			return nil, fmt.Errorf("%w: scan hit: %v", models.ErrStorage, err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// cleanTerms strips characters the FTS query grammar would choke on.
func cleanTerms(query string) []string {
	var terms []string
	for _, field := range strings.Fields(query) {
		term := strings.Map(func(r rune) rune {
			switch r {
			case '"', '\'', '*', '(', ')', '-', ':', '^':
				return -1
			}
			return r
		}, field)
		if term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}
