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

package tunnel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/opentrusty/hubtrust/internal/observability/metrics"
)

// DefaultPendingTTL bounds how long a requester waits for a response.
const DefaultPendingTTL = 30 * time.Second

type pendingEntry struct {
	key *PrivateKey
	// claimed by whichever of Take or eviction gets there first
	claimed atomic.Bool
}

// PendingExchanges maps correlation ids to retained ephemeral keys. Entries
// leave by Take (the caller destroys the key) or by expiry and Discard (the
// key is destroyed here).
type PendingExchanges struct {
	items   *cache.Cache
	ttl     time.Duration
	metrics metrics.Recorder
}

// NewPendingExchanges creates a registry. Expired entries are only swept by
// Run or Sweep; no goroutine is started here.
func NewPendingExchanges(ttl time.Duration, rec metrics.Recorder) *PendingExchanges {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	p := &PendingExchanges{
		items:   cache.New(ttl, 0),
		ttl:     ttl,
		metrics: rec,
	}
	p.items.OnEvicted(func(_ string, v interface{}) {
		e := v.(*pendingEntry)
		if e.claimed.CompareAndSwap(false, true) {
			_ = e.key.Destroy()
			p.metrics.PendingExchanges(context.Background(), -1)
		}
	})
	return p
}

// Put retains key for correlationID.
func (p *PendingExchanges) Put(correlationID string, key *PrivateKey) error {
	if correlationID == "" {
		return ErrMissingCorrelationID
	}
	// an expired but unswept entry would otherwise be overwritten without
	// its key being destroyed
	p.items.DeleteExpired()
	if err := p.items.Add(correlationID, &pendingEntry{key: key}, cache.DefaultExpiration); err != nil {
		return ErrDuplicateExchange
	}
	p.metrics.PendingExchanges(context.Background(), 1)
	return nil
}

// Take removes and returns the key for correlationID. The caller owns the
// key and must destroy it.
func (p *PendingExchanges) Take(correlationID string) (*PrivateKey, error) {
	v, ok := p.items.Get(correlationID)
	if !ok {
		return nil, ErrNoPendingExchange
	}
	e := v.(*pendingEntry)
	if !e.claimed.CompareAndSwap(false, true) {
		return nil, ErrNoPendingExchange
	}
	p.items.Delete(correlationID)
	p.metrics.PendingExchanges(context.Background(), -1)
	return e.key, nil
}

// Discard drops and destroys the key for correlationID, if any.
func (p *PendingExchanges) Discard(correlationID string) {
	p.items.Delete(correlationID)
}

// Len counts entries, including expired ones not yet swept.
func (p *PendingExchanges) Len() int {
	return p.items.ItemCount()
}

// Sweep destroys the keys of expired exchanges.
func (p *PendingExchanges) Sweep() {
	p.items.DeleteExpired()
}

// Run sweeps every interval until ctx is done, then destroys everything
// still pending.
func (p *PendingExchanges) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = p.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Close()
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Close destroys every retained key.
func (p *PendingExchanges) Close() {
	p.items.DeleteExpired()
	for id := range p.items.Items() {
		p.items.Delete(id)
	}
}
