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

package commands

import (
	"errors"
	"io"

	"github.com/opentrusty/hubtrust/internal/keystore"
)

// RunJWKS prints the JWKS the server would publish for the given key pair.
func RunJWKS(w io.Writer, privateKeyB64, publicKeyB64, kid string) error {
	if privateKeyB64 == "" {
		return errors.New("a private key is required (--private-key or IDP_PRIVATE_KEY)")
	}

	ks := keystore.New()
	if err := ks.LoadFromEncodedPEM(privateKeyB64, publicKeyB64, kid); err != nil {
		return err
	}
	set, err := ks.JWKS()
	if err != nil {
		return err
	}
	return writeJSON(w, set)
}
