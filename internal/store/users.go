package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
)

// Identity and sessions are the surrounding system's job; this store only
// resolves an actor id to a user row so handlers can apply ownership and
// admin checks.

func CreateUser(ctx context.Context, db *sql.DB, email, name string, isAdmin bool) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, is_admin, created_at, updated_at, version)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		RETURNING id, email, name, is_admin, created_at, updated_at, version`

	err := db.QueryRowContext(ctx, query, email, name, isAdmin).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	user := &models.User{}

	query := `
		SELECT id, email, name, is_admin, created_at, updated_at, version
		FROM users
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}
