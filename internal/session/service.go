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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opentrusty/hubtrust/internal/id"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// Service issues and validates sessions.
type Service struct {
	repo        Repository
	lifetime    time.Duration
	idleTimeout time.Duration
	now         func() time.Time
}

// NewService creates a session service. idleTimeout of zero disables idle
// expiry.
func NewService(repo Repository, lifetime, idleTimeout time.Duration) *Service {
	return &Service{repo: repo, lifetime: lifetime, idleTimeout: idleTimeout, now: time.Now}
}

// SetClock overrides the clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Lifetime returns the absolute session lifetime.
func (s *Service) Lifetime() time.Duration { return s.lifetime }

// Create starts a session for userID.
func (s *Service) Create(ctx context.Context, userID, ipAddress, userAgent string) (*Session, error) {
	sid, err := id.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	now := s.now()
	sess := &Session{
		ID:         sid,
		UserID:     userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Validate returns the live session for sessionID and records activity.
// Expired or idle sessions are deleted.
func (s *Service) Validate(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.IsExpired(now) || sess.IsIdle(now, s.idleTimeout) {
		if err := s.repo.Delete(ctx, sessionID); err != nil {
			slog.WarnContext(ctx, "failed to delete stale session", logger.Error(err))
		}
		return nil, ErrSessionExpired
	}

	if err := s.repo.Touch(ctx, sessionID, now); err != nil && !errors.Is(err, ErrSessionNotFound) {
		slog.WarnContext(ctx, "failed to update session activity", logger.Error(err))
	}
	sess.LastSeenAt = now
	return sess, nil
}

// Revoke ends a session.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.repo.Delete(ctx, sessionID)
}

// RevokeAll ends every session of a user.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// CleanupExpired deletes expired sessions.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
