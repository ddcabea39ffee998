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

package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// Config configures a Space-side verifier.
type Config struct {
	// HubURL is the hub base URL. JWKSURL defaults to HubURL plus
	// /.well-known/jwks.json.
	HubURL  string
	JWKSURL string
	// Issuer defaults to HubURL.
	Issuer string
	// Audience is this Space's identity, the owner's username.
	Audience           string
	HTTPClient         *http.Client
	MinRefreshInterval time.Duration
}

// Verifier checks satellite tokens presented to one Space.
type Verifier struct {
	keys     *KeySet
	verifier *idp.Verifier
	audience string
}

// NewVerifier creates a verifier. Keys are fetched lazily.
func NewVerifier(cfg Config) (*Verifier, error) {
	hub := strings.TrimRight(cfg.HubURL, "/")
	if cfg.JWKSURL == "" {
		if hub == "" {
			return nil, errors.New("satellite: HubURL or JWKSURL is required")
		}
		cfg.JWKSURL = hub + "/.well-known/jwks.json"
	}
	if cfg.Issuer == "" {
		cfg.Issuer = hub
	}
	if cfg.Issuer == "" {
		return nil, errors.New("satellite: Issuer is required")
	}
	aud := idp.NormalizeAudience(cfg.Audience)
	if aud == "" {
		return nil, errors.New("satellite: Audience is required")
	}
	if cfg.MinRefreshInterval == 0 {
		cfg.MinRefreshInterval = DefaultMinRefreshInterval
	}

	keys := NewKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.MinRefreshInterval)
	return &Verifier{
		keys:     keys,
		verifier: idp.NewVerifier(keys, cfg.Issuer),
		audience: aud,
	}, nil
}

// Keys exposes the underlying key cache.
func (v *Verifier) Keys() *KeySet { return v.keys }

// Verify checks token for this Space's audience.
func (v *Verifier) Verify(ctx context.Context, token string) idp.VerificationResult {
	if parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
		if kid, _ := parsed.Header["kid"].(string); kid != "" {
			v.keys.Ensure(ctx, kid)
		}
	}
	return v.verifier.VerifyForService(ctx, token, v.audience)
}

type claimsKey struct{}

// ClaimsFromContext returns claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*idp.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*idp.Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer satellite token and
// stores the claims in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeResult(w, idp.VerificationResult{Error: idp.FailureInvalidTokenFormat, Message: "bearer token required"})
			return
		}

		res := v.Verify(r.Context(), strings.TrimSpace(token))
		if !res.Valid {
			slog.InfoContext(r.Context(), "satellite token rejected",
				logger.Audience(v.audience),
				logger.VerificationError(string(res.Error)),
			)
			writeResult(w, res)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, res.Claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeResult(w http.ResponseWriter, res idp.VerificationResult) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"valid": false, "error": res.Error})
}
