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

// Package redis caches tunnel encryption public keys in front of Postgres.
// Key lookups sit on the hot path of every tunnelled request, while keys
// change only when a Space re-registers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyTTL bounds how stale a cached key may get if an invalidation is
// lost.
const DefaultKeyTTL = 5 * time.Minute

// noKey marks a registered user without an encryption key. It cannot collide
// with a real key, which is always 43 base64url characters.
const noKey = "-"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// KeyCache implements identity.KeyCache.
type KeyCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewKeyCache creates a cache. A non-positive ttl uses DefaultKeyTTL.
func NewKeyCache(rdb *goredis.Client, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &KeyCache{rdb: rdb, ttl: ttl}
}

func cacheKey(username string) string { return "hubtrust:enckey:" + username }

// Get returns the cached key for username. found is false on a miss.
func (c *KeyCache) Get(ctx context.Context, username string) (*string, bool, error) {
	v, err := c.rdb.Get(ctx, cacheKey(username)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read key cache: %w", err)
	}
	if v == noKey {
		return nil, true, nil
	}
	return &v, true, nil
}

// Set caches key for username. A nil key is cached as "no key".
func (c *KeyCache) Set(ctx context.Context, username string, key *string) error {
	v := noKey
	if key != nil {
		v = *key
	}
	if err := c.rdb.Set(ctx, cacheKey(username), v, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write key cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for username.
func (c *KeyCache) Invalidate(ctx context.Context, username string) error {
	if err := c.rdb.Del(ctx, cacheKey(username)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate key cache: %w", err)
	}
	return nil
}
