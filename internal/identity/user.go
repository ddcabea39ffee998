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

package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Domain errors
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrWeakPassword         = errors.New("password does not meet security requirements")
	ErrAccountLocked        = errors.New("account is locked")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrInvalidEncryptionKey = errors.New("encryption public key must be 32 bytes of base64url")
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Usernames double as satellite token audiences, so they are stored in the
// same normalized form audiences are compared in.
var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)

// NormalizeUsername trims and lowercases a username.
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// User represents a hub account. Every active user operates a Space and is a
// valid token audience.
type User struct {
	ID                  string
	Username            string
	Email               string
	Role                string
	IsActive            bool
	EncryptionPublicKey *string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credentials represents user authentication credentials
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	AddCredentials(ctx context.Context, credentials *Credentials) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)

	// ActiveUserExists reports whether an active user owns username.
	ActiveUserExists(ctx context.Context, username string) (bool, error)

	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error
	SetActive(ctx context.Context, userID string, active bool) error
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error

	SetEncryptionKey(ctx context.Context, userID string, publicKey string) error
	// GetEncryptionKey returns ErrUserNotFound for unknown or inactive users
	// and a nil key for users that never registered one.
	GetEncryptionKey(ctx context.Context, username string) (*string, error)
}

// KeyCache caches encryption public keys by username. A cached nil key is a
// valid entry meaning "registered user without a key".
type KeyCache interface {
	Get(ctx context.Context, username string) (key *string, found bool, err error)
	Set(ctx context.Context, username string, key *string) error
	Invalidate(ctx context.Context, username string) error
}
