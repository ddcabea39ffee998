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
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/id"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
	"github.com/opentrusty/hubtrust/internal/tunnel"
)

// PasswordHasher handles password hashing using Argon2id
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new password hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a password using Argon2id
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.iterations, h.memory, h.parallelism, h.keyLength)

	// $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify verifies a password against a hash
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	sections := strings.Split(strings.TrimPrefix(encodedHash, "$"), "$")
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actualHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))
	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1, nil
}

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	keyCache           KeyCache
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
	now                func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithKeyCache puts a read-through cache in front of encryption key lookups.
func WithKeyCache(c KeyCache) ServiceOption {
	return func(s *Service) { s.keyCache = c }
}

// WithClock overrides the lockout clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		repo:               repo,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an active user with a password.
func (s *Service) Register(ctx context.Context, username, email, password, role string) (*User, error) {
	username = NormalizeUsername(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if email != "" && !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}
	if role == "" {
		role = RoleUser
	}

	if existing, err := s.repo.GetByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &User{
		ID:        id.NewUUIDv7(),
		Username:  username,
		Email:     strings.TrimSpace(email),
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if err := s.repo.AddCredentials(ctx, &Credentials{UserID: user.ID, PasswordHash: passwordHash, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("failed to add credentials: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		ActorID:  user.ID,
		Resource: "user",
		Metadata: map[string]any{"username": username, "role": role},
	})
	return user, nil
}

// Authenticate checks a username and password, applying lockout after
// repeated failures.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	username = NormalizeUsername(username)
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "login",
			Metadata: map[string]any{"username": username, "reason": "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{"reason": "inactive"},
		})
		return nil, ErrAccountInactive
	}

	now := s.now()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{"reason": "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		attempts := user.FailedLoginAttempts + 1
		var lockedUntil *time.Time

		if attempts >= s.lockoutMaxAttempts {
			until := now.Add(s.lockoutDuration)
			lockedUntil = &until
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{"attempts": attempts},
			})
		}

		if err := s.repo.UpdateLockout(ctx, user.ID, attempts, lockedUntil); err != nil {
			slog.ErrorContext(ctx, "failed to record login failure", logger.UserID(user.ID), logger.Error(err))
		}

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{"reason": "invalid_password", "attempts": attempts},
		})
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := s.repo.UpdateLockout(ctx, user.ID, 0, nil); err != nil {
			slog.ErrorContext(ctx, "failed to reset lockout", logger.UserID(user.ID), logger.Error(err))
		}
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		ActorID:  user.ID,
		Resource: "login",
	})
	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, NormalizeUsername(username))
}

// ActiveUserExists backs the dynamic satellite audience allowlist.
func (s *Service) ActiveUserExists(ctx context.Context, username string) (bool, error) {
	return s.repo.ActiveUserExists(ctx, NormalizeUsername(username))
}

// Deactivate disables a user. A deactivated user stops being a valid
// token audience and its encryption key stops being served.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	if err := s.repo.SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	s.invalidateKey(ctx, user.Username)
	return nil
}

// ChangePassword changes user password
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, userID, newHash)
}

// SetEncryptionKey registers the X25519 public key tunnel requests to the
// user's Space are encrypted to. The key is stored in unpadded base64url.
func (s *Service) SetEncryptionKey(ctx context.Context, userID, publicKeyB64 string) (string, error) {
	pub, err := tunnel.ParsePublicKey(publicKeyB64)
	if err != nil {
		return "", ErrInvalidEncryptionKey
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", ErrUserNotFound
	}

	normalized := tunnel.EncodeB64(pub)
	if err := s.repo.SetEncryptionKey(ctx, userID, normalized); err != nil {
		return "", fmt.Errorf("failed to store encryption key: %w", err)
	}
	s.invalidateKey(ctx, user.Username)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeEncryptionKeyRegistered,
		ActorID:  userID,
		Resource: "encryption_key",
		Metadata: map[string]any{"username": user.Username},
	})
	return normalized, nil
}

// GetEncryptionKey returns the registered key of an active user, or nil if
// the user never registered one.
func (s *Service) GetEncryptionKey(ctx context.Context, username string) (*string, error) {
	username = NormalizeUsername(username)

	if s.keyCache != nil {
		key, found, err := s.keyCache.Get(ctx, username)
		if err == nil && found {
			return key, nil
		}
		if err != nil {
			slog.WarnContext(ctx, "encryption key cache read failed", logger.Username(username), logger.Error(err))
		}
	}

	key, err := s.repo.GetEncryptionKey(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if s.keyCache != nil {
		if err := s.keyCache.Set(ctx, username, key); err != nil {
			slog.WarnContext(ctx, "encryption key cache write failed", logger.Username(username), logger.Error(err))
		}
	}
	return key, nil
}

func (s *Service) invalidateKey(ctx context.Context, username string) {
	if s.keyCache == nil {
		return
	}
	if err := s.keyCache.Invalidate(ctx, username); err != nil {
		slog.WarnContext(ctx, "encryption key cache invalidation failed", logger.Username(username), logger.Error(err))
	}
}

func isValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	return len(email) > 3 && len(email) < 255 && at > 0 && at < len(email)-1
}

func isStrongPassword(password string) bool {
	return len(password) >= 8
}
