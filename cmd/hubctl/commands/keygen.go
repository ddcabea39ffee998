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
	"fmt"
	"io"

	"github.com/opentrusty/hubtrust/internal/keystore"
)

// RunKeygen generates an RSA signing key pair and prints it in the form the
// server reads from IDP_KEY_ID, IDP_PRIVATE_KEY and IDP_PUBLIC_KEY. An empty
// kid is derived from the public key.
func RunKeygen(w io.Writer, kid string, bits int, format string) error {
	if bits < keystore.DefaultKeySize {
		return fmt.Errorf("key size must be at least %d bits", keystore.DefaultKeySize)
	}

	ks := keystore.New(keystore.WithKeySize(bits))
	if err := ks.Generate(kid); err != nil {
		return err
	}
	kid, privB64, pubB64, err := ks.ExportCurrent()
	if err != nil {
		return err
	}

	return writeKV(w, format, []kv{
		{"IDP_KEY_ID", kid},
		{"IDP_PRIVATE_KEY", privB64},
		{"IDP_PUBLIC_KEY", pubB64},
	})
}
