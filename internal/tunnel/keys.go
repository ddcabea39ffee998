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
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/opentrusty/hubtrust/internal/secret"
)

// KeySize is the length of X25519 scalars and points.
const KeySize = curve25519.ScalarSize

// PrivateKey is an X25519 private key held in a secret buffer. It must be
// destroyed once its exchange is over.
type PrivateKey struct {
	buf    *secret.Buffer
	public []byte
}

// GenerateEphemeralKeypair returns a fresh key pair from crypto/rand.
func GenerateEphemeralKeypair() (*PrivateKey, []byte, error) {
	scalar := make([]byte, KeySize)
	if _, err := rand.Read(scalar); err != nil {
		return nil, nil, fmt.Errorf("tunnel: failed to read randomness: %w", err)
	}
	k, err := NewPrivateKey(scalar)
	if err != nil {
		return nil, nil, err
	}
	return k, k.PublicKey(), nil
}

// NewPrivateKey takes ownership of scalar; the slice is wiped on return.
func NewPrivateKey(scalar []byte) (*PrivateKey, error) {
	if len(scalar) != KeySize {
		secret.Wipe(scalar)
		return nil, ErrInvalidPrivateKey
	}
	public, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		secret.Wipe(scalar)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	buf, err := secret.NewFromBytes(scalar)
	if err != nil {
		secret.Wipe(scalar)
		return nil, err
	}
	return &PrivateKey{buf: buf, public: public}, nil
}

// ParsePrivateKey decodes a base64url scalar.
func ParsePrivateKey(b64 string) (*PrivateKey, error) {
	scalar, err := DecodeB64(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return NewPrivateKey(scalar)
}

// PublicKey returns a copy of the public point.
func (k *PrivateKey) PublicKey() []byte {
	out := make([]byte, len(k.public))
	copy(out, k.public)
	return out
}

// PublicKeyB64 returns the public point as unpadded base64url.
func (k *PrivateKey) PublicKeyB64() string {
	return EncodeB64(k.public)
}

// ExportB64 returns the scalar as unpadded base64url. Only operator tooling
// should need this.
func (k *PrivateKey) ExportB64() (string, error) {
	scalar, err := k.buf.Bytes()
	if err != nil {
		return "", ErrKeyDestroyed
	}
	return EncodeB64(scalar), nil
}

// Destroy wipes the scalar. Safe to call more than once.
func (k *PrivateKey) Destroy() error {
	return k.buf.Close()
}

// Destroyed reports whether Destroy has been called.
func (k *PrivateKey) Destroyed() bool {
	return k.buf.Closed()
}

func (k *PrivateKey) sharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != KeySize {
		return nil, ErrInvalidPublicKey
	}
	scalar, err := k.buf.Bytes()
	if err != nil {
		return nil, ErrKeyDestroyed
	}
	// X25519 rejects low-order points, which would yield an all-zero secret.
	shared, err := curve25519.X25519(scalar, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return shared, nil
}

// ParsePublicKey decodes and length-checks a base64url public key.
func ParsePublicKey(b64 string) ([]byte, error) {
	pub, err := DecodeB64(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(pub) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, KeySize, len(pub))
	}
	return pub, nil
}
