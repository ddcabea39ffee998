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

package idp

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// UserLookup answers whether an active user owns a username. Satellite
// audiences are Space owners, so any active username is a valid audience.
type UserLookup interface {
	ActiveUserExists(ctx context.Context, username string) (bool, error)
}

// AudienceValidator decides which audiences tokens may be minted for.
//
// When a UserLookup is wired and answers, its answer is final. The static
// set is consulted only when no lookup is wired or the lookup fails.
type AudienceValidator struct {
	lookup   UserLookup
	fallback map[string]struct{}
}

// NewAudienceValidator builds a validator. lookup may be nil.
func NewAudienceValidator(lookup UserLookup, fallback []string) *AudienceValidator {
	set := make(map[string]struct{}, len(fallback))
	for _, a := range fallback {
		if n := NormalizeAudience(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return &AudienceValidator{lookup: lookup, fallback: set}
}

// NormalizeAudience trims and lowercases an audience.
func NormalizeAudience(aud string) string {
	return strings.ToLower(strings.TrimSpace(aud))
}

// IsAllowed reports whether tokens may be minted for audience.
func (v *AudienceValidator) IsAllowed(ctx context.Context, audience string) bool {
	aud := NormalizeAudience(audience)
	if aud == "" {
		return false
	}

	if v.lookup != nil {
		exists, err := v.lookup.ActiveUserExists(ctx, aud)
		if err == nil {
			return exists
		}
		slog.WarnContext(ctx, "audience lookup unavailable, using static allowlist",
			logger.Audience(aud),
			logger.Error(err),
		)
	}

	_, ok := v.fallback[aud]
	return ok
}

// AllowedAudiences returns the static allowlist, sorted. Dynamic audiences
// are not enumerated.
func (v *AudienceValidator) AllowedAudiences() []string {
	out := make([]string, 0, len(v.fallback))
	for a := range v.fallback {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
