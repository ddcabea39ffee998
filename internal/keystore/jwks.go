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

package keystore

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
)

// JWK represents a JSON Web Key (RFC 7517). Only public parameters exist on
// this type.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS represents a JSON Web Key Set (RFC 7517)
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the public view of every retained key, current key first.
func (s *Store) JWKS() (JWKS, error) {
	snap := s.snap.Load()
	if snap == nil {
		return JWKS{}, ErrKeyNotConfigured
	}
	set := JWKS{Keys: make([]JWK, 0, len(snap.keys))}
	for _, kp := range snap.keys {
		set.Keys = append(set.Keys, PublicJWK(kp.KID, kp.Public()))
	}
	return set, nil
}

// PublicJWK renders an RSA public key as an RS256 signing JWK.
func PublicJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
