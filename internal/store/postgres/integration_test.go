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

//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opentrusty/hubtrust/internal/id"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := Config{
		URL:          os.Getenv("DATABASE_URL"),
		Host:         "localhost",
		Port:         "5432",
		User:         "hubtrust",
		Password:     "hubtrust_dev_password",
		Database:     "hubtrust",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 1,
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	require.NoError(t, db.Migrate(ctx, InitialSchema))
	t.Cleanup(db.Close)
	return db
}

func createUser(t *testing.T, repo *UserRepository, username string) *identity.User {
	t.Helper()
	u := &identity.User{
		ID:       id.NewUUIDv7(),
		Username: username,
		Email:    username + "@example.com",
		Role:     identity.RoleUser,
		IsActive: true,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

// TestPurpose: Validates that only active users resolve as token audiences and key owners.
// Scope: Database Integration Test
// Security: Audience allowlist integrity
// Expected: Deactivated user is neither an audience nor a key owner.
// Test Case ID: DB-01
func TestUserRepository_ActiveAudience(t *testing.T) {
	db := openTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	username := "space-" + id.NewUUIDv7()[:8]
	u := createUser(t, repo, username)

	ok, err := repo.ActiveUserExists(ctx, username)
	require.NoError(t, err)
	assert.True(t, ok)

	key, err := repo.GetEncryptionKey(ctx, username)
	require.NoError(t, err)
	assert.Nil(t, key)

	require.NoError(t, repo.SetEncryptionKey(ctx, u.ID, "k"))
	key, err = repo.GetEncryptionKey(ctx, username)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "k", *key)

	require.NoError(t, repo.SetActive(ctx, u.ID, false))
	ok, err = repo.ActiveUserExists(ctx, username)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetEncryptionKey(ctx, username)
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestUserRepository_DuplicateUsername(t *testing.T) {
	db := openTestDB(t)
	repo := NewUserRepository(db)

	username := "dup-" + id.NewUUIDv7()[:8]
	createUser(t, repo, username)

	err := repo.Create(context.Background(), &identity.User{
		ID:       id.NewUUIDv7(),
		Username: username,
		Email:    "other-" + username + "@example.com",
		Role:     identity.RoleUser,
		IsActive: true,
	})
	assert.ErrorIs(t, err, identity.ErrUserAlreadyExists)
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	users := NewUserRepository(db)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	u := createUser(t, users, "sess-"+id.NewUUIDv7()[:8])
	sid, err := id.NewSessionID()
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Create(ctx, &session.Session{
		ID:         sid,
		UserID:     u.ID,
		ExpiresAt:  now.Add(-time.Minute),
		CreatedAt:  now.Add(-time.Hour),
		LastSeenAt: now.Add(-time.Hour),
	}))

	got, err := repo.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)

	require.NoError(t, repo.Touch(ctx, sid, now))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = repo.Get(ctx, sid)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.ErrorIs(t, repo.Touch(ctx, sid, now), session.ErrSessionNotFound)
}
