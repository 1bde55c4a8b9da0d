package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

type UserStore struct {
	base
}

func (s *UserStore) Create(ctx context.Context, username, email, role string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" {
		return nil, fmt.Errorf("%w: username and email are required", database.ErrValidation)
	}
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", database.ErrValidation, role)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user := &models.User{}

	query := `
		INSERT INTO users (username, email, role, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, email, role, created_at`

	err := s.db.QueryRowContext(ctx, query, username, email, role).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email already registered", database.ErrConflict)
		}
		return nil, database.Persistence("create user", err)
	}

	return user, nil
}

func (s *UserStore) Get(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	user := &models.User{}

	query := `
		SELECT id, username, email, role, created_at
		FROM users
		WHERE id = $1`

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, database.Persistence("get user", err)
	}

	return user, nil
}
