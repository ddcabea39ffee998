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
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opentrusty/hubtrust/cmd/hubctl/commands"
	"github.com/opentrusty/hubtrust/internal/keystore"
	"github.com/opentrusty/hubtrust/pkg/satellite"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   commands.FormatEnv,
		Usage:   "Output format: 'env' or 'json'",
	}
}

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "keygen",
			Usage: "Generate an RSA signing key pair for satellite tokens",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "kid",
					Aliases: []string{"k"},
					Usage:   "Key id (default: derived from the public key)",
				},
				&cli.IntFlag{
					Name:    "bits",
					Aliases: []string{"b"},
					Value:   keystore.DefaultKeySize,
					Usage:   "RSA modulus size",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunKeygen(os.Stdout, cmd.String("kid"), cmd.Int("bits"), cmd.String("format"))
			},
		},
		{
			Name:  "jwks",
			Usage: "Print the JWKS published for a signing key pair",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "private-key",
					Usage:   "Base64-encoded PEM private key",
					Sources: cli.EnvVars("IDP_PRIVATE_KEY"),
				},
				&cli.StringFlag{
					Name:    "public-key",
					Usage:   "Base64-encoded PEM public key, checked against the private key",
					Sources: cli.EnvVars("IDP_PUBLIC_KEY"),
				},
				&cli.StringFlag{
					Name:    "kid",
					Usage:   "Key id",
					Sources: cli.EnvVars("IDP_KEY_ID"),
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunJWKS(os.Stdout, cmd.String("private-key"), cmd.String("public-key"), cmd.String("kid"))
			},
		},
		{
			Name:      "verify",
			Usage:     "Verify a satellite token against the hub's JWKS, as a Space would",
			ArgsUsage: "<token>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "hub",
					Usage:    "Hub base URL, also the expected issuer",
					Required: true,
					Sources:  cli.EnvVars("HUB_URL"),
				},
				&cli.StringFlag{
					Name:     "audience",
					Aliases:  []string{"a"},
					Usage:    "Space identity the token must be bound to",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "jwks-url",
					Usage: "JWKS URL (default: <hub>/.well-known/jwks.json)",
				},
				&cli.StringFlag{
					Name:  "issuer",
					Usage: "Expected issuer (default: --hub)",
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Value: 10 * time.Second,
					Usage: "Timeout for fetching the JWKS",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
				defer cancel()
				return commands.RunVerify(ctx, os.Stdout, satellite.Config{
					HubURL:   cmd.String("hub"),
					JWKSURL:  cmd.String("jwks-url"),
					Issuer:   cmd.String("issuer"),
					Audience: cmd.String("audience"),
				}, cmd.Args().First())
			},
		},
	}
}
