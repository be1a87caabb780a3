package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/content-runs/internal/types"
)

// CreateUser inserts a profile and returns its ID
func (db *DB) CreateUser(ctx context.Context, name, email, passwordHash string, role types.Role) (uuid.UUID, error) {
	if role == "" {
		role = types.RoleUser
	}
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO profiles (name, email, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		name, email, passwordHash, role,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// GetUser retrieves a profile by ID
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	var u types.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, email, role, created_at FROM profiles WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail retrieves a profile with its password hash
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*types.UserCredentials, error) {
	var c types.UserCredentials
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, email, role, created_at, password_hash FROM profiles WHERE email = $1`,
		email,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Role, &c.CreatedAt, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &c, nil
}

// CheckEmailExists reports whether a profile already uses email
func (db *DB) CheckEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE email = $1)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// SetUserRole changes the role of the profile with the given email
func (db *DB) SetUserRole(ctx context.Context, email string, role types.Role) error {
	result, err := db.pool.Exec(ctx, `UPDATE profiles SET role = $1 WHERE email = $2`, role, email)
	if err != nil {
		return fmt.Errorf("failed to set user role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", email)
	}
	return nil
}
