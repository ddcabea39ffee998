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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Algorithm names the only supported envelope scheme.
const Algorithm = "X25519-ECDH-AES-256-GCM"

// EncodeB64 encodes b as unpadded base64url.
func EncodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeB64 accepts base64url with or without padding.
func DecodeB64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// EncryptionInfo is the per-message wire form. All byte fields are unpadded
// base64url.
type EncryptionInfo struct {
	Algorithm          string `json:"algorithm"`
	EphemeralPublicKey string `json:"ephemeral_public_key"`
	Nonce              string `json:"nonce"`
	EncryptedPayload   string `json:"encrypted_payload"`
}

// Envelope is what travels over the bus. The correlation id rides next to
// the encryption info and is authenticated as additional data.
type Envelope struct {
	CorrelationID string `json:"correlation_id"`
	EncryptionInfo
}

type decodedInfo struct {
	ephemeralPublic []byte
	nonce           []byte
	ciphertext      []byte
}

func newInfo(ephemeralPublic, nonce, ciphertext []byte) *EncryptionInfo {
	return &EncryptionInfo{
		Algorithm:          Algorithm,
		EphemeralPublicKey: EncodeB64(ephemeralPublic),
		Nonce:              EncodeB64(nonce),
		EncryptedPayload:   EncodeB64(ciphertext),
	}
}

// decode checks the algorithm and field lengths. An empty ciphertextB64
// falls back to the embedded payload.
func (i *EncryptionInfo) decode(ciphertextB64 string) (*decodedInfo, error) {
	if i == nil {
		return nil, ErrMalformedEnvelope
	}
	if i.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, i.Algorithm)
	}
	pub, err := DecodeB64(i.EphemeralPublicKey)
	if err != nil || len(pub) != KeySize {
		return nil, fmt.Errorf("%w: ephemeral_public_key", ErrMalformedEnvelope)
	}
	nonce, err := DecodeB64(i.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce", ErrMalformedEnvelope)
	}
	if ciphertextB64 == "" {
		ciphertextB64 = i.EncryptedPayload
	}
	ct, err := DecodeB64(ciphertextB64)
	if err != nil || len(ct) < TagSize {
		return nil, fmt.Errorf("%w: encrypted_payload", ErrMalformedEnvelope)
	}
	return &decodedInfo{ephemeralPublic: pub, nonce: nonce, ciphertext: ct}, nil
}

// Validate reports whether the envelope is well formed without decrypting.
func (e *Envelope) Validate() error {
	if e.CorrelationID == "" {
		return ErrMissingCorrelationID
	}
	_, err := e.EncryptionInfo.decode("")
	return err
}

// MarshalEnvelope renders an envelope as JSON for the bus.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses and validates a bus message.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
