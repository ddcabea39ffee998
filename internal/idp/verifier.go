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
)

// KeyResolver resolves a verification key by kid.
type KeyResolver interface {
	PublicKey(kid string) (*rsa.PublicKey, bool)
}

// Verifier checks satellite tokens for a specific service. It only reads the
// key resolver and is safe for concurrent use.
type Verifier struct {
	keys   KeyResolver
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier accepting tokens from issuerURL. Only
// WithClock applies to a Verifier.
func NewVerifier(keys KeyResolver, issuerURL string, opts ...Option) *Verifier {
	o := buildOptions(opts)
	return &Verifier{keys: keys, issuer: issuerURL, now: o.now}
}

// VerifyForService checks token for a service whose own identity is
// authorizedAudience. Rejections are returned as results, never errors.
func (v *Verifier) VerifyForService(ctx context.Context, token, authorizedAudience string) VerificationResult {
	// Unverified parse: header for kid, payload only for diagnostics.
	unverified := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, unverified)
	if err != nil {
		return invalid(FailureInvalidTokenFormat, "token could not be parsed")
	}

	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return invalid(FailureMissingKID, "token header has no kid")
	}

	pub, ok := v.keys.PublicKey(kid)
	if !ok {
		return invalid(FailureUnknownKey, fmt.Sprintf("no key with kid %q", kid))
	}

	expected := NormalizeAudience(authorizedAudience)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(expected),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	_, err = parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return classify(err, unverified, expected)
	}
	return valid(claims)
}

func classify(err error, unverified jwt.MapClaims, expected string) VerificationResult {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(FailureDecodeError, "token payload could not be decoded")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invalid(FailureInvalidSignature, "token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid(FailureTokenExpired, "token has expired")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		// Diagnostic only; this value was never verified.
		actual, _ := unverified["aud"].(string)
		return invalid(FailureAudienceMismatch,
			fmt.Sprintf("token audience %q does not match %q", actual, expected))
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return invalid(FailureInvalidIssuer, "token issuer is not trusted")
	default:
		return invalid(FailureVerificationError, err.Error())
	}
}
