// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/hubtrust/internal/identity"
)

const userColumns = `id, username, email, role, is_active, encryption_public_key,
	failed_login_attempts, locked_until, created_at, updated_at`

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Role, &user.IsActive, &user.EncryptionPublicKey,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Username, user.Email, user.Role, user.IsActive, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// AddCredentials adds credentials for a user
func (r *UserRepository) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
	`, credentials.UserID, credentials.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("failed to insert credentials: %w", err)
	}
	credentials.UpdatedAt = now
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername retrieves a user by normalized username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// ActiveUserExists backs the dynamic audience allowlist.
func (r *UserRepository) ActiveUserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND is_active)
	`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	return exists, nil
}

// UpdateLockout updates user lockout status
func (r *UserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = $1, locked_until = $2, updated_at = NOW()
		WHERE id = $3
	`, failedAttempts, lockedUntil, userID)
	if err != nil {
		return fmt.Errorf("failed to update user lockout status: %w", err)
	}
	return nil
}

// SetActive activates or deactivates a user
func (r *UserRepository) SetActive(ctx context.Context, userID string, active bool) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, userID, active)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// GetCredentials retrieves user credentials
func (r *UserRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	var creds identity.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at
		FROM credentials
		WHERE user_id = $1
	`, userID).Scan(&creds.UserID, &creds.PasswordHash, &creds.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &creds, nil
}

// UpdatePassword updates user password
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = $3
		WHERE user_id = $1
	`, userID, passwordHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// SetEncryptionKey stores a user's tunnel public key.
func (r *UserRepository) SetEncryptionKey(ctx context.Context, userID string, publicKey string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET encryption_public_key = $2, updated_at = NOW() WHERE id = $1
	`, userID, publicKey)
	if err != nil {
		return fmt.Errorf("failed to set encryption key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// GetEncryptionKey returns the tunnel public key of an active user.
func (r *UserRepository) GetEncryptionKey(ctx context.Context, username string) (*string, error) {
	var key *string
	err := r.db.pool.QueryRow(ctx, `
		SELECT encryption_public_key FROM users WHERE username = $1 AND is_active
	`, username).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}
	return key, nil
}
