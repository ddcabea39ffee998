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

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// BootstrapConfig describes the first administrator created on an empty hub.
type BootstrapConfig struct {
	Username string
	Email    string
	Password string
}

// Bootstrap creates the initial admin if configured and not yet present.
// It is a no-op when Username is empty.
func (s *Service) Bootstrap(ctx context.Context, cfg BootstrapConfig) error {
	if cfg.Username == "" {
		return nil
	}

	if _, err := s.repo.GetByUsername(ctx, NormalizeUsername(cfg.Username)); err == nil {
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to check bootstrap admin: %w", err)
	}

	user, err := s.Register(ctx, cfg.Username, cfg.Email, cfg.Password, RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped initial admin", logger.Username(user.Username), logger.UserID(user.ID))
	return nil
}
