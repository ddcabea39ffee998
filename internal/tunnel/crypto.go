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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/opentrusty/hubtrust/internal/secret"
)

// Purpose is an HKDF info label. Request and response keys must never share
// a label.
type Purpose string

const (
	PurposeRequest  Purpose = "tunnel-request-v1"
	PurposeResponse Purpose = "tunnel-response-v1"

	SymmetricKeySize = 32
	NonceSize        = 12
	TagSize          = 16
)

// DeriveKey runs X25519 between own and peerPublic and expands the shared
// secret with HKDF-SHA256 (empty salt) under the purpose label.
func DeriveKey(own *PrivateKey, peerPublic []byte, purpose Purpose) ([]byte, error) {
	shared, err := own.sharedSecret(peerPublic)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(shared)

	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("tunnel: key derivation failed: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tunnel: cipher init failed: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(plaintext, key, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("tunnel: nonce generation failed: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext. Every mismatch of key, nonce, ciphertext or aad
// reports ErrAuthenticationFailed and nothing else.
func Decrypt(ciphertext, key, nonce, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// EncryptTunnelRequest encrypts payload to a Space's long-term public key.
// The returned private key must be kept until the response is decrypted
// and destroyed afterwards, or on timeout.
func EncryptTunnelRequest(payload []byte, peerPublicKeyB64, correlationID string) (*EncryptionInfo, *PrivateKey, error) {
	if correlationID == "" {
		return nil, nil, ErrMissingCorrelationID
	}
	peer, err := ParsePublicKey(peerPublicKeyB64)
	if err != nil {
		return nil, nil, err
	}

	eph, ephPub, err := GenerateEphemeralKeypair()
	if err != nil {
		return nil, nil, err
	}
	info, err := seal(payload, eph, peer, ephPub, PurposeRequest, correlationID)
	if err != nil {
		_ = eph.Destroy()
		return nil, nil, err
	}
	return info, eph, nil
}

// DecryptTunnelRequest is the Space side of a request: it opens info with the
// Space's long-term key and returns the requester's ephemeral public key for
// the response.
func DecryptTunnelRequest(info *EncryptionInfo, recipient *PrivateKey, correlationID string) (payload, requesterPublic []byte, err error) {
	if correlationID == "" {
		return nil, nil, ErrMissingCorrelationID
	}
	d, err := decodeForOpen(info, "")
	if err != nil {
		return nil, nil, err
	}
	payload, err = open(d, recipient, PurposeRequest, correlationID)
	if err != nil {
		return nil, nil, err
	}
	return payload, d.ephemeralPublic, nil
}

// EncryptTunnelResponse is the Space side of a response. It uses a new
// ephemeral key, destroyed before returning.
func EncryptTunnelResponse(payload, requesterPublic []byte, correlationID string) (*EncryptionInfo, error) {
	if correlationID == "" {
		return nil, ErrMissingCorrelationID
	}
	if len(requesterPublic) != KeySize {
		return nil, ErrInvalidPublicKey
	}
	eph, ephPub, err := GenerateEphemeralKeypair()
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()

	return seal(payload, eph, requesterPublic, ephPub, PurposeResponse, correlationID)
}

// DecryptTunnelResponse opens a Space's response with the ephemeral key kept
// from EncryptTunnelRequest. An empty ciphertextB64 uses info's payload.
func DecryptTunnelResponse(ciphertextB64 string, info *EncryptionInfo, retained *PrivateKey, correlationID string) ([]byte, error) {
	if correlationID == "" {
		return nil, ErrMissingCorrelationID
	}
	d, err := decodeForOpen(info, ciphertextB64)
	if err != nil {
		return nil, err
	}
	return open(d, retained, PurposeResponse, correlationID)
}

func seal(payload []byte, own *PrivateKey, peer, ownPublic []byte, purpose Purpose, correlationID string) (*EncryptionInfo, error) {
	key, err := DeriveKey(own, peer, purpose)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(key)

	nonce, ct, err := Encrypt(payload, key, []byte(correlationID))
	if err != nil {
		return nil, err
	}
	return newInfo(ownPublic, nonce, ct), nil
}

// decodeForOpen reports altered envelope bytes as ErrAuthenticationFailed,
// the same as a failed tag check. Only a missing envelope or an unknown
// algorithm keep their own errors.
func decodeForOpen(info *EncryptionInfo, ciphertextB64 string) (*decodedInfo, error) {
	if info == nil {
		return nil, ErrMalformedEnvelope
	}
	d, err := info.decode(ciphertextB64)
	if errors.Is(err, ErrMalformedEnvelope) {
		return nil, ErrAuthenticationFailed
	}
	return d, err
}

func open(d *decodedInfo, own *PrivateKey, purpose Purpose, correlationID string) ([]byte, error) {
	key, err := DeriveKey(own, d.ephemeralPublic, purpose)
	if errors.Is(err, ErrInvalidPublicKey) {
		// A low-order ephemeral key is tampering like any other.
		return nil, ErrAuthenticationFailed
	}
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(key)

	return Decrypt(d.ciphertext, key, d.nonce, []byte(correlationID))
}
