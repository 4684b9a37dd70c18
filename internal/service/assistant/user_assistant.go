package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"assistberry/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// RegisterUser creates a user with the supplied credentials. When the
// username matches bootstrapAdmin the account comes up approved, with the
// admin role and every entitlement; everyone else waits for approval.
func (s *Service) RegisterUser(ctx context.Context, username, password, bootstrapAdmin string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrInvalidInput)
	}

	if _, err := s.userByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("%w: username is taken", models.ErrInvalidInput)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", models.ErrStorage, err)
	}

	user := &models.User{
		Username:  username,
		Role:      models.UserRoleUser,
		CreatedAt: time.Now().UTC(),
	}
	if bootstrapAdmin != "" && username == bootstrapAdmin {
		user.Role = models.UserRoleAdmin
		user.IsApproved = true
		user.AllowPro = true
		user.AllowImage = true
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, is_approved, allow_pro, allow_image, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username, string(hash), user.Role, user.IsApproved, user.AllowPro, user.AllowImage, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create user: %v", models.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: user id: %v", models.ErrStorage, err)
	}
	user.ID = id
	user.PasswordHash = string(hash)
	return user, nil
}

// Login validates credentials and returns the user profile. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrInvalidInput)
	}

	user, err := s.userByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrNotFound
	}
	return user, nil
}

// GetUser loads one account row.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, is_approved, allow_pro, allow_image, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Service) userByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, is_approved, allow_pro, allow_image, created_at
		 FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.IsApproved, &user.AllowPro, &user.AllowImage, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: query user: %v", models.ErrStorage, err)
	}
	return &user, nil
}

// ListUsers returns all accounts, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, role, is_approved, allow_pro, allow_image, created_at
		 FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role,
			&u.IsApproved, &u.AllowPro, &u.AllowImage, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan user: %v", models.ErrStorage, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserAccess sets the approval flag and feature entitlements.
func (s *Service) UpdateUserAccess(ctx context.Context, id int64, approved, allowPro, allowImage bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_approved = ?, allow_pro = ?, allow_image = ? WHERE id = ?`,
		approved, allowPro, allowImage, id,
	)
	if err != nil {
		return fmt.Errorf("%w: update user access: %v", models.ErrStorage, err)
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

// DeleteUser cascades through the memory profile, every session with its
// messages and index entries, then the user row. One transaction: either
// everything goes or nothing does. A user with no sessions deletes fine.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid user id", models.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_memories WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete memory: %v", models.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, s.indexDeleteByUserSQL(), id); err != nil {
		return fmt.Errorf("%w: delete index entries: %v", models.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE user_id = ?)`, id); err != nil {
		return fmt.Errorf("%w: delete messages: %v", models.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete sessions: %v", models.ErrStorage, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete user: %v", models.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", models.ErrStorage, err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete user: %v", models.ErrStorage, err)
	}
	return nil
}
