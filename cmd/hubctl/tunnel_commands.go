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
	"os"

	"github.com/urfave/cli/v3"

	"github.com/opentrusty/hubtrust/cmd/hubctl/commands"
)

func getTunnelCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "tunnel",
			Usage: "Tunnel key and envelope tooling",
			Commands: []*cli.Command{
				{
					Name:  "keygen",
					Usage: "Generate a Space's long-term X25519 key pair",
					Flags: []cli.Flag{formatFlag()},
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return commands.RunTunnelKeygen(os.Stdout, cmd.String("format"))
					},
				},
				{
					Name:  "open",
					Usage: "Decrypt a request envelope read from stdin with a Space key",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:    "private-key",
							Usage:   "Space private key (base64url)",
							Sources: cli.EnvVars("TUNNEL_PRIVATE_KEY"),
						},
					},
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return commands.RunTunnelOpen(ctx, os.Stdout, os.Stdin, cmd.String("private-key"))
					},
				},
				{
					Name:  "selftest",
					Usage: "Run one encrypted exchange in process",
					Action: func(ctx context.Context, cmd *cli.Command) error {
						return commands.RunTunnelSelftest(ctx, os.Stdout)
					},
				},
			},
		},
	}
}
