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

// Package satellite verifies hub-issued satellite tokens inside a Space.
//
// A Space only trusts tokens whose audience is its own owner's username. Keys
// are fetched from the hub's JWKS endpoint and cached by kid; an unknown kid
// triggers a refresh so hub key rotation needs no Space restart.
package satellite

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoKeysFound = errors.New("satellite: no usable keys in JWKS response")
	ErrJWKSFetch   = errors.New("satellite: failed to fetch JWKS")
)

// DefaultMinRefreshInterval limits how often unknown kids can force a fetch.
// Failed fetches count, so an unreachable hub is asked at most this often.
const DefaultMinRefreshInterval = 30 * time.Second

const defaultFetchTimeout = 10 * time.Second

// KeySet is a JWKS-backed cache of RSA verification keys. It satisfies the
// key resolver the hub verifier expects.
type KeySet struct {
	url         string
	client      *http.Client
	minInterval time.Duration
	now         func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	etag        string
	lastAttempt time.Time
	fetchGroup  singleflight.Group
}

// NewKeySet creates an empty key set for the JWKS at url. A nil client uses
// a client with a 10s timeout.
func NewKeySet(url string, client *http.Client, minRefreshInterval time.Duration) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if minRefreshInterval < 0 {
		minRefreshInterval = 0
	}
	return &KeySet{
		url:         url,
		client:      client,
		minInterval: minRefreshInterval,
		now:         time.Now,
		keys:        make(map[string]*rsa.PublicKey),
	}
}

// PublicKey returns the cached key for kid. It never fetches.
func (s *KeySet) PublicKey(kid string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[kid]
	return k, ok
}

// KeyIDs returns the cached kids, sorted.
func (s *KeySet) KeyIDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		out = append(out, kid)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Ensure makes sure kid is cached, refreshing once if it is not and the
// refresh interval allows it. It reports whether kid is known afterwards.
func (s *KeySet) Ensure(ctx context.Context, kid string) bool {
	if _, ok := s.PublicKey(kid); ok {
		return true
	}

	s.mu.RLock()
	throttled := !s.lastAttempt.IsZero() && s.now().Sub(s.lastAttempt) < s.minInterval
	s.mu.RUnlock()
	if throttled {
		return false
	}

	if err := s.Refresh(ctx); err != nil {
		return false
	}
	_, ok := s.PublicKey(kid)
	return ok
}

// Refresh fetches the JWKS. Concurrent callers share one request, which is
// detached from the first caller's cancellation and bounded by its own
// timeout instead.
func (s *KeySet) Refresh(ctx context.Context) error {
	ch := s.fetchGroup.DoChan("jwks", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout())
		defer cancel()
		return nil, s.fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrJWKSFetch, ctx.Err())
	}
}

func (s *KeySet) fetchTimeout() time.Duration {
	if s.client.Timeout > 0 {
		return s.client.Timeout
	}
	return defaultFetchTimeout
}

func (s *KeySet) fetch(ctx context.Context) error {
	s.mu.Lock()
	s.lastAttempt = s.now()
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}

	s.mu.RLock()
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	s.mu.RUnlock()

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetch, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || k.Algorithm != string(jose.RS256) || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if pub, ok := k.Key.(*rsa.PublicKey); ok {
			keys[k.KeyID] = pub
		}
	}
	if len(keys) == 0 {
		return ErrNoKeysFound
	}

	s.mu.Lock()
	s.keys = keys
	s.etag = resp.Header.Get("ETag")
	s.mu.Unlock()
	return nil
}
