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

// Package idp issues and verifies satellite tokens: short-lived RS256 JWTs
// bound to exactly one audience, verifiable offline against the hub JWKS.
package idp

import (
	"errors"

	"github.com/opentrusty/hubtrust/internal/keystore"
)

var (
	ErrMissingAudience = errors.New("audience is required")
	ErrInvalidAudience = errors.New("audience is not allowed")
	// ErrKeyNotConfigured aliases the keystore error so callers can match
	// either package's sentinel.
	ErrKeyNotConfigured = keystore.ErrKeyNotConfigured
)

// FailureKind classifies why a satellite token was rejected.
type FailureKind string

const (
	FailureMissingKID         FailureKind = "missing_kid"
	FailureInvalidTokenFormat FailureKind = "invalid_token_format"
	FailureUnknownKey         FailureKind = "unknown_key"
	FailureTokenExpired       FailureKind = "token_expired"
	FailureAudienceMismatch   FailureKind = "audience_mismatch"
	FailureInvalidIssuer      FailureKind = "invalid_issuer"
	FailureInvalidSignature   FailureKind = "invalid_signature"
	FailureDecodeError        FailureKind = "decode_error"
	FailureVerificationError  FailureKind = "verification_error"
)

// VerificationResult is either valid with claims, or invalid with a kind and
// a human readable message.
type VerificationResult struct {
	Valid   bool        `json:"valid"`
	Claims  *Claims     `json:"payload,omitempty"`
	Error   FailureKind `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func valid(c *Claims) VerificationResult {
	return VerificationResult{Valid: true, Claims: c}
}

func invalid(kind FailureKind, msg string) VerificationResult {
	return VerificationResult{Error: kind, Message: msg}
}
