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
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/observability/metrics"
)

const (
	DefaultTokenTTL = 60 * time.Second

	tracerName = "github.com/opentrusty/hubtrust/internal/idp"
)

// Signer yields the current signing key with its kid.
type Signer interface {
	Signer() (string, *rsa.PrivateKey, error)
}

// Token is a minted satellite token.
type Token struct {
	Value     string
	Audience  string
	KeyID     string
	ExpiresIn int
	ExpiresAt time.Time
}

type options struct {
	now     func() time.Time
	audit   audit.Logger
	metrics metrics.Recorder
}

// Option configures an Issuer or Verifier.
type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithAuditLogger(l audit.Logger) Option {
	return func(o *options) { o.audit = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		audit:   audit.NewSlogLogger(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Issuer mints satellite tokens. It keeps no per-call state.
type Issuer struct {
	signer    Signer
	audiences *AudienceValidator
	issuer    string
	ttl       time.Duration
	opts      options
}

// NewIssuer creates an issuer. A non-positive ttl selects DefaultTokenTTL.
func NewIssuer(signer Signer, audiences *AudienceValidator, issuerURL string, ttl time.Duration, opts ...Option) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{
		signer:    signer,
		audiences: audiences,
		issuer:    issuerURL,
		ttl:       ttl,
		opts:      buildOptions(opts),
	}
}

// IssuerURL returns the iss claim value.
func (i *Issuer) IssuerURL() string { return i.issuer }

// TTL returns the lifetime of minted tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Mint signs a token for principal bound to audience. Failures are never
// retried here; callers request a new token.
func (i *Issuer) Mint(ctx context.Context, principal Principal, audience string) (*Token, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "idp.Mint")
	defer span.End()

	tok, err := i.mint(ctx, principal, audience)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.opts.metrics.TokenMinted(ctx, metrics.StatusError)
		i.opts.audit.Log(ctx, audit.Event{
			Type:     audit.TypeTokenDenied,
			ActorID:  principal.ID,
			Resource: "satellite_token",
			Metadata: map[string]any{"audience": NormalizeAudience(audience), "reason": err.Error()},
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("audience", tok.Audience), attribute.String("kid", tok.KeyID))
	i.opts.metrics.TokenMinted(ctx, metrics.StatusSuccess)
	i.opts.audit.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  principal.ID,
		Resource: "satellite_token",
		Metadata: map[string]any{"audience": tok.Audience, "kid": tok.KeyID, "expires_in": tok.ExpiresIn},
	})
	return tok, nil
}

func (i *Issuer) mint(ctx context.Context, principal Principal, audience string) (*Token, error) {
	aud := NormalizeAudience(audience)
	if aud == "" {
		return nil, ErrMissingAudience
	}

	kid, key, err := i.signer.Signer()
	if err != nil {
		if errors.Is(err, ErrKeyNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyNotConfigured, err)
	}

	if !i.audiences.IsAllowed(ctx, aud) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAudience, aud)
	}

	now := i.opts.now().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := &Claims{
		Subject:   principal.ID,
		Issuer:    i.issuer,
		Audience:  aud,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Role:      principal.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		Value:     signed,
		Audience:  aud,
		KeyID:     kid,
		ExpiresIn: int(i.ttl / time.Second),
		ExpiresAt: exp,
	}, nil
}
