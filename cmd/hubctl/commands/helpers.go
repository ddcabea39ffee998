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

// Package commands implements the hubctl subcommands. Each Run function
// writes to the io.Writer it is given so it can be exercised in tests.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
)

// Output formats.
const (
	FormatEnv  = "env"
	FormatJSON = "json"
)

type kv struct {
	key   string
	value string
}

// writeKV prints pairs as KEY=value lines ready for a .env file, or as a
// JSON object.
func writeKV(w io.Writer, format string, pairs []kv) error {
	switch format {
	case FormatEnv, "":
		for _, p := range pairs {
			if _, err := fmt.Fprintf(w, "%s=%s\n", p.key, p.value); err != nil {
				return err
			}
		}
		return nil
	case FormatJSON:
		m := make(map[string]string, len(pairs))
		for _, p := range pairs {
			m[p.key] = p.value
		}
		return writeJSON(w, m)
	default:
		return fmt.Errorf("invalid format %q: use %s or %s", format, FormatEnv, FormatJSON)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
