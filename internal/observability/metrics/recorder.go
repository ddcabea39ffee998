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

package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Recorder records hub domain events.
type Recorder interface {
	TokenMinted(ctx context.Context, status string)
	TokenVerified(ctx context.Context, result string)
	TunnelOperation(ctx context.Context, operation, status string)
	PendingExchanges(ctx context.Context, delta int64)
}

// Noop discards everything.
type Noop struct{}

func (Noop) TokenMinted(context.Context, string)             {}
func (Noop) TokenVerified(context.Context, string)           {}
func (Noop) TunnelOperation(context.Context, string, string) {}
func (Noop) PendingExchanges(context.Context, int64)         {}

type hubMetrics struct {
	minted        metric.Int64Counter
	verifications metric.Int64Counter
	tunnelOps     metric.Int64Counter
	pending       metric.Int64UpDownCounter
}

// NewRecorder registers the hub instruments on m.
func NewRecorder(m *Meter) (Recorder, error) {
	minted, err := m.CreateCounter("hubtrust_tokens_minted_total", "Satellite tokens minted")
	if err != nil {
		return nil, err
	}
	verifications, err := m.CreateCounter("hubtrust_token_verifications_total", "Satellite token verifications by result")
	if err != nil {
		return nil, err
	}
	tunnelOps, err := m.CreateCounter("hubtrust_tunnel_operations_total", "Tunnel encrypt and decrypt operations")
	if err != nil {
		return nil, err
	}
	pending, err := m.CreateUpDownCounter("hubtrust_pending_exchanges", "Tunnel exchanges awaiting a response")
	if err != nil {
		return nil, err
	}
	return &hubMetrics{
		minted:        minted,
		verifications: verifications,
		tunnelOps:     tunnelOps,
		pending:       pending,
	}, nil
}

func (h *hubMetrics) TokenMinted(ctx context.Context, status string) {
	h.minted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (h *hubMetrics) TokenVerified(ctx context.Context, result string) {
	h.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (h *hubMetrics) TunnelOperation(ctx context.Context, operation, status string) {
	h.tunnelOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func (h *hubMetrics) PendingExchanges(ctx context.Context, delta int64) {
	h.pending.Add(ctx, delta)
}
