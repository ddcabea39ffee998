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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/opentrusty/hubtrust/internal/tunnel"
)

// RunTunnelKeygen generates a long-term X25519 key pair for a Space. The
// public half is what gets registered at PUT /nats/encryption-key.
func RunTunnelKeygen(w io.Writer, format string) error {
	priv, _, err := tunnel.GenerateEphemeralKeypair()
	if err != nil {
		return err
	}
	defer priv.Destroy()

	privB64, err := priv.ExportB64()
	if err != nil {
		return err
	}
	return writeKV(w, format, []kv{
		{"TUNNEL_PRIVATE_KEY", privB64},
		{"TUNNEL_PUBLIC_KEY", priv.PublicKeyB64()},
	})
}

// RunTunnelOpen decrypts a request envelope read from r with a Space's
// private key and writes the plaintext payload to w.
func RunTunnelOpen(ctx context.Context, w io.Writer, r io.Reader, privateKeyB64 string) error {
	if privateKeyB64 == "" {
		return errors.New("a private key is required (--private-key or TUNNEL_PRIVATE_KEY)")
	}
	priv, err := tunnel.ParsePrivateKey(privateKeyB64)
	if err != nil {
		return err
	}
	defer priv.Destroy()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	env, err := tunnel.UnmarshalEnvelope(data)
	if err != nil {
		return err
	}

	req, err := tunnel.NewResponder(priv, nil).Open(ctx, env)
	if err != nil {
		return err
	}
	_, err = w.Write(req.Payload)
	return err
}

// RunTunnelSelftest runs one request/response exchange in process, with both
// sides using fresh keys.
func RunTunnelSelftest(ctx context.Context, w io.Writer) error {
	spaceKey, _, err := tunnel.GenerateEphemeralKeypair()
	if err != nil {
		return err
	}
	defer spaceKey.Destroy()

	pending := tunnel.NewPendingExchanges(tunnel.DefaultPendingTTL, nil)
	defer pending.Close()
	requester := tunnel.NewRequester(pending, nil)
	space := tunnel.NewResponder(spaceKey, nil)

	request := []byte("hubctl selftest request")
	response := []byte("hubctl selftest response")

	reqEnv, err := requester.Seal(ctx, request, space.PublicKeyB64())
	if err != nil {
		return fmt.Errorf("seal request: %w", err)
	}
	req, err := space.Open(ctx, reqEnv)
	if err != nil {
		return fmt.Errorf("open request: %w", err)
	}
	if !bytes.Equal(req.Payload, request) {
		return errors.New("request payload mismatch")
	}
	respEnv, err := space.Seal(ctx, req, response)
	if err != nil {
		return fmt.Errorf("seal response: %w", err)
	}
	got, err := requester.Open(ctx, respEnv)
	if err != nil {
		return fmt.Errorf("open response: %w", err)
	}
	if !bytes.Equal(got, response) {
		return errors.New("response payload mismatch")
	}

	_, err = fmt.Fprintf(w, "tunnel selftest ok (correlation_id=%s)\n", reqEnv.CorrelationID)
	return err
}
