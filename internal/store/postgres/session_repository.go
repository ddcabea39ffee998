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
	"github.com/opentrusty/hubtrust/internal/session"
)

// Column order matches session.Session field order for positional scans.
const sessionColumns = `id, user_id, COALESCE(ip_address, ''), COALESCE(user_agent, ''), expires_at, created_at, last_seen_at`

// SessionRepository implements session.Repository.
type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, ip_address, user_agent, expires_at, created_at, last_seen_at)
		VALUES (@id, @user_id, NULLIF(@ip, ''), NULLIF(@ua, ''), @expires_at, @created_at, @last_seen_at)
	`, pgx.NamedArgs{
		"id":           sess.ID,
		"user_id":      sess.UserID,
		"ip":           sess.IPAddress,
		"ua":           sess.UserAgent,
		"expires_at":   sess.ExpiresAt,
		"created_at":   sess.CreatedAt,
		"last_seen_at": sess.LastSeenAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[session.Session])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Touch records activity. Expired rows are left alone so that Validate
// still sees them as expired.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, lastSeen time.Time) error {
	tag, err := r.db.pool.Exec(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, sessionID, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.exec(ctx, "delete session", `DELETE FROM sessions WHERE id = $1`, sessionID)
}

// DeleteByUserID ends every session of a user, e.g. on deactivation.
func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	return r.exec(ctx, "delete user sessions", `DELETE FROM sessions WHERE user_id = $1`, userID)
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) exec(ctx context.Context, op, sql string, args ...any) error {
	if _, err := r.db.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}
