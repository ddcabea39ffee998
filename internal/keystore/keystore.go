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

// Package keystore holds the hub's RSA signing keys.
//
// Exactly one key is current and used for signing. Keys replaced by Rotate
// stay resolvable by kid until they fall out of the retention window, so
// satellite tokens minted just before a rotation still verify.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultKeySize  = 2048
	DefaultRetained = 3

	minKeySize = 2048
)

var (
	// ErrKeyNotConfigured is returned when no signing key has been installed.
	ErrKeyNotConfigured = errors.New("signing key not configured")

	// ErrKeyMismatch is returned when a loaded public key does not belong to
	// the loaded private key.
	ErrKeyMismatch = errors.New("public key does not match private key")

	ErrInvalidKeyMaterial = errors.New("invalid key material")
)

// KeyPair is an immutable RSA signing key with its identifier.
type KeyPair struct {
	KID       string
	SizeBits  int
	CreatedAt time.Time

	private *rsa.PrivateKey
}

// Public returns the public half of the key pair.
func (k *KeyPair) Public() *rsa.PublicKey {
	return &k.private.PublicKey
}

// snapshot is never mutated after it is published.
type snapshot struct {
	current *KeyPair
	// ordered newest first; keys[0] == current
	keys  []*KeyPair
	byKID map[string]*KeyPair
}

// Store holds the current signing key and the retained verification keys.
type Store struct {
	keySize  int
	retained int
	now      func() time.Time

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithKeySize sets the modulus size used by Generate and Rotate.
func WithKeySize(bits int) Option {
	return func(s *Store) {
		if bits >= minKeySize {
			s.keySize = bits
		}
	}
}

// WithRetained sets how many keys (current included) stay resolvable.
func WithRetained(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.retained = n
		}
	}
}

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store. Call Generate or LoadFromEncodedPEM before use.
func New(opts ...Option) *Store {
	s := &Store{
		keySize:  DefaultKeySize,
		retained: DefaultRetained,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeySize returns the modulus size used for generated keys.
func (s *Store) KeySize() int { return s.keySize }

// Generate creates a fresh key pair and installs it as the only key. An empty
// kid is replaced by the key's thumbprint.
func (s *Store) Generate(kid string) error {
	kp, err := s.newKeyPair(kid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(kp, nil)
	return nil
}

// Rotate creates a fresh key pair, makes it current and keeps the previous
// keys for verification up to the retention limit.
func (s *Store) Rotate(kid string) (*KeyPair, error) {
	kp, err := s.newKeyPair(kid)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous []*KeyPair
	if old := s.snap.Load(); old != nil {
		previous = old.keys
	}
	s.publish(kp, previous)
	return kp, nil
}

// LoadFromEncodedPEM installs an externally provisioned key pair as the only
// key. Both inputs are standard base64 encodings of PEM blocks, which is how
// they travel through environment variables.
func (s *Store) LoadFromEncodedPEM(privatePEMB64, publicPEMB64, kid string) error {
	privPEM, err := base64.StdEncoding.DecodeString(privatePEMB64)
	if err != nil {
		return fmt.Errorf("%w: private key is not base64: %v", ErrInvalidKeyMaterial, err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	if publicPEMB64 != "" {
		pubPEM, err := base64.StdEncoding.DecodeString(publicPEMB64)
		if err != nil {
			return fmt.Errorf("%w: public key is not base64: %v", ErrInvalidKeyMaterial, err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		if !priv.PublicKey.Equal(pub) {
			return ErrKeyMismatch
		}
	}

	if kid == "" {
		kid = Thumbprint(&priv.PublicKey)
	}
	kp := &KeyPair{
		KID:       kid,
		SizeBits:  priv.N.BitLen(),
		CreatedAt: s.now(),
		private:   priv,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(kp, nil)
	return nil
}

// IsConfigured reports whether a signing key is installed.
func (s *Store) IsConfigured() bool {
	return s.snap.Load() != nil
}

// CurrentKeyID returns the kid of the signing key.
func (s *Store) CurrentKeyID() (string, error) {
	snap := s.snap.Load()
	if snap == nil {
		return "", ErrKeyNotConfigured
	}
	return snap.current.KID, nil
}

// SigningKey returns the current private key.
func (s *Store) SigningKey() (*rsa.PrivateKey, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrKeyNotConfigured
	}
	return snap.current.private, nil
}

// Signer returns the current kid and private key from the same snapshot, so a
// concurrent rotation can never pair one key's kid with another's signature.
func (s *Store) Signer() (string, *rsa.PrivateKey, error) {
	snap := s.snap.Load()
	if snap == nil {
		return "", nil, ErrKeyNotConfigured
	}
	return snap.current.KID, snap.current.private, nil
}

// PublicKey resolves a retained key by kid.
func (s *Store) PublicKey(kid string) (*rsa.PublicKey, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, false
	}
	kp, ok := snap.byKID[kid]
	if !ok {
		return nil, false
	}
	return kp.Public(), true
}

// Keys returns the retained key pairs, newest first.
func (s *Store) Keys() []*KeyPair {
	snap := s.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]*KeyPair, len(snap.keys))
	copy(out, snap.keys)
	return out
}

// Thumbprint derives a stable kid from the public modulus.
func Thumbprint(pub *rsa.PublicKey) string {
	hash := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(hash[:16])
}

func (s *Store) newKeyPair(kid string) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, s.keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	if kid == "" {
		kid = Thumbprint(&priv.PublicKey)
	}
	return &KeyPair{
		KID:       kid,
		SizeBits:  s.keySize,
		CreatedAt: s.now(),
		private:   priv,
	}, nil
}

// publish must be called with s.mu held.
func (s *Store) publish(current *KeyPair, previous []*KeyPair) {
	keys := make([]*KeyPair, 0, s.retained)
	keys = append(keys, current)
	for _, kp := range previous {
		if len(keys) == s.retained {
			break
		}
		// a reused kid replaces the older key
		if kp.KID == current.KID {
			continue
		}
		keys = append(keys, kp)
	}

	byKID := make(map[string]*KeyPair, len(keys))
	for _, kp := range keys {
		byKID[kp.KID] = kp
	}
	s.snap.Store(&snapshot{current: current, keys: keys, byKID: byKID})
}
