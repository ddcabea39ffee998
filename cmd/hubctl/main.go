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

// Command hubctl is the operator tool for a hub and its Spaces: it generates
// signing and tunnel keys, prints JWKS documents and verifies tokens offline.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", slog.Any("error", err))
	}

	cmd := &cli.Command{
		Name:     "hubctl",
		Usage:    "Hub operator tooling for satellite tokens and tunnel keys",
		Version:  "0.1.0",
		Commands: append(getKeyCommands(), getTunnelCommands()...),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("hubctl error", slog.Any("error", err))
		os.Exit(1)
	}
}
