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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event types
const (
	TypeLoginSuccess            = "login_success"
	TypeLoginFailed             = "login_failed"
	TypeLogout                  = "logout"
	TypeUserLocked              = "user_locked"
	TypeUserCreated             = "user_created"
	TypeUserDeactivated         = "user_deactivated"
	TypePasswordChanged         = "password_changed"
	TypeTokenIssued             = "token_issued"
	TypeTokenDenied             = "token_denied"
	TypeTokenVerified           = "token_verified"
	TypeTokenVerificationFailed = "token_verification_failed"
	TypeSigningKeyRotated       = "signing_key_rotated"
	TypeEncryptionKeyRegistered = "encryption_key_registered"
)

// Event represents an auditable action
type Event struct {
	Type      string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range Redact(event.Metadata) {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// Redact returns a copy of metadata with secret-looking values replaced.
func Redact(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}

var secretMarkers = []string{
	"password", "secret", "token", "api_key", "private_key",
	"credential", "hash", "authorization",
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Recorder keeps events in memory so tests can assert on the audit trail.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Log(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Metadata = Redact(event.Metadata)
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
