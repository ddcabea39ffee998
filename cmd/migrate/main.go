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

	"github.com/opentrusty/hubtrust/internal/config"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
	"github.com/opentrusty/hubtrust/internal/store/postgres"
)

// migrate applies the embedded schema. Every statement is idempotent, so it
// is safe to run on each deploy.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-migrate",
	})

	ctx := context.Background()
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

	slog.Info("applying initial schema", logger.Operation("migrate"))
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		slog.Error("migration failed", logger.Error(err))
		db.Close()
		os.Exit(1)
	}
	slog.Info("migration successful")
}
