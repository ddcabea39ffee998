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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opentrusty/hubtrust/internal/config"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
	"github.com/opentrusty/hubtrust/internal/session"
	"github.com/opentrusty/hubtrust/internal/store/postgres"
)

// cleanup deletes expired sessions once and exits, for running from cron
// when the server's own cleanup loop is not enough.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-cleanup",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: 1,
		MaxIdleConns: 0,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	sessions := session.NewService(postgres.NewSessionRepository(db), cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	n, err := sessions.CleanupExpired(ctx)
	if err != nil {
		slog.Error("failed to delete expired sessions", logger.Error(err))
		db.Close()
		os.Exit(1)
	}
	slog.Info("expired sessions deleted", logger.RowsAffected(n))
}
