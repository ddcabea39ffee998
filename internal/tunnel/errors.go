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

// Package tunnel protects payloads relayed to Spaces over an untrusted
// message bus.
//
// A requester encrypts to the Space's long-term X25519 key with a fresh
// ephemeral key and keeps that ephemeral private key until the response
// arrives. The Space answers with its own fresh ephemeral key against the
// requester's ephemeral public key. Request and response keys come from HKDF
// with distinct labels, and the correlation id is bound in as AEAD
// additional data.
package tunnel

import "errors"

var (
	// ErrAuthenticationFailed is the only error an AEAD open ever reports.
	ErrAuthenticationFailed = errors.New("tunnel: authentication failed")

	ErrInvalidPublicKey     = errors.New("tunnel: invalid X25519 public key")
	ErrInvalidPrivateKey    = errors.New("tunnel: invalid X25519 private key")
	ErrInvalidKeyLength     = errors.New("tunnel: symmetric key must be 32 bytes")
	ErrUnsupportedAlgorithm = errors.New("tunnel: unsupported algorithm")
	ErrMalformedEnvelope    = errors.New("tunnel: malformed envelope")
	ErrMissingCorrelationID = errors.New("tunnel: correlation id is required")
	ErrKeyDestroyed         = errors.New("tunnel: private key destroyed")

	ErrDuplicateExchange = errors.New("tunnel: exchange already pending")
	ErrNoPendingExchange = errors.New("tunnel: no pending exchange for correlation id")
)
