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
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/pkg/satellite"
)

// RunVerify checks token the way a Space would: keys come from the hub's
// JWKS and the audience must match. The result is printed either way; an
// invalid token also returns an error so the exit status reflects it.
func RunVerify(ctx context.Context, w io.Writer, cfg satellite.Config, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("a token is required")
	}

	v, err := satellite.NewVerifier(cfg)
	if err != nil {
		return err
	}

	res := v.Verify(ctx, token)
	if err := writeJSON(w, res); err != nil {
		return err
	}
	if res.Error == idp.FailureUnknownKey {
		return fmt.Errorf("token rejected: %s (hub publishes %s)", res.Error, strings.Join(v.Keys().KeyIDs(), ", "))
	}
	if !res.Valid {
		return fmt.Errorf("token rejected: %s", res.Error)
	}
	return nil
}
