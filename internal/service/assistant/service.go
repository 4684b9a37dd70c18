// Package assistant owns all persistent state: users, sessions, messages,
// the search index, and per-user memory profiles. Every other component
// takes a *Service as an injected dependency; there is no process-wide
// handle.
package assistant

import (
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Service handles persistence for the conversation store.
type Service struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// NewService builds a store service over the opened database. The driver
// name selects the search-index SQL dialect.
func NewService(db *sql.DB, driver string, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	driver = strings.ToLower(driver)
	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "mysql":
	default:
		return nil, errors.New("unsupported driver: " + driver)
	}
	return &Service{db: db, driver: driver, logger: logger}, nil
}

// DB exposes the underlying handle for components that share it, such as
// the auth token service.
func (s *Service) DB() *sql.DB {
	return s.db
}
