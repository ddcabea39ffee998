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
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// EncodePEM renders a key pair in the form LoadFromEncodedPEM accepts:
// standard base64 of a PKCS#1 private key PEM and of a PKIX public key PEM.
func EncodePEM(priv *rsa.PrivateKey) (privateB64, publicB64 string, err error) {
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return base64.StdEncoding.EncodeToString(privPEM), base64.StdEncoding.EncodeToString(pubPEM), nil
}

// ExportCurrent encodes the current signing key with EncodePEM.
func (s *Store) ExportCurrent() (kid, privateB64, publicB64 string, err error) {
	kid, priv, err := s.Signer()
	if err != nil {
		return "", "", "", err
	}
	privateB64, publicB64, err = EncodePEM(priv)
	return kid, privateB64, publicB64, err
}
