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

package tunnel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/hubtrust/internal/id"
	"github.com/opentrusty/hubtrust/internal/observability/metrics"
)

const tracerName = "github.com/opentrusty/hubtrust/internal/tunnel"

func startSpan(ctx context.Context, name, correlationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("correlation_id", correlationID)))
}

func finish(ctx context.Context, span trace.Span, rec metrics.Recorder, op string, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.TunnelOperation(ctx, op, metrics.StatusError)
		return
	}
	rec.TunnelOperation(ctx, op, metrics.StatusSuccess)
}

// Requester sends encrypted requests and opens the matching responses,
// keeping each ephemeral key in a PendingExchanges registry in between.
type Requester struct {
	pending *PendingExchanges
	metrics metrics.Recorder
}

func NewRequester(pending *PendingExchanges, rec metrics.Recorder) *Requester {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Requester{pending: pending, metrics: rec}
}

// Seal encrypts payload for the Space owning spacePublicKeyB64 under a new
// correlation id.
func (r *Requester) Seal(ctx context.Context, payload []byte, spacePublicKeyB64 string) (env *Envelope, err error) {
	correlationID := id.NewCorrelationID()
	ctx, span := startSpan(ctx, "tunnel.Seal", correlationID)
	defer func() { finish(ctx, span, r.metrics, "encrypt_request", err) }()

	info, eph, err := EncryptTunnelRequest(payload, spacePublicKeyB64, correlationID)
	if err != nil {
		return nil, err
	}
	if err := r.pending.Put(correlationID, eph); err != nil {
		_ = eph.Destroy()
		return nil, err
	}
	return &Envelope{CorrelationID: correlationID, EncryptionInfo: *info}, nil
}

// Open decrypts a response. The retained key is destroyed whatever the
// outcome, so a failed response ends the exchange.
func (r *Requester) Open(ctx context.Context, resp *Envelope) (payload []byte, err error) {
	ctx, span := startSpan(ctx, "tunnel.Open", resp.CorrelationID)
	defer func() { finish(ctx, span, r.metrics, "decrypt_response", err) }()

	eph, err := r.pending.Take(resp.CorrelationID)
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()

	return DecryptTunnelResponse("", &resp.EncryptionInfo, eph, resp.CorrelationID)
}

// Abandon ends an exchange that will never be answered.
func (r *Requester) Abandon(correlationID string) {
	r.pending.Discard(correlationID)
}

// Request is a decrypted request as seen by a Space.
type Request struct {
	CorrelationID string
	Payload       []byte

	requesterPublic []byte
}

// Responder is the Space side, holding the Space's long-term key.
type Responder struct {
	key     *PrivateKey
	metrics metrics.Recorder
}

func NewResponder(key *PrivateKey, rec metrics.Recorder) *Responder {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Responder{key: key, metrics: rec}
}

// PublicKeyB64 is the value a Space registers with the hub.
func (s *Responder) PublicKeyB64() string {
	return s.key.PublicKeyB64()
}

// Open decrypts an incoming request.
func (s *Responder) Open(ctx context.Context, env *Envelope) (req *Request, err error) {
	ctx, span := startSpan(ctx, "tunnel.Responder.Open", env.CorrelationID)
	defer func() { finish(ctx, span, s.metrics, "decrypt_request", err) }()

	payload, requesterPublic, err := DecryptTunnelRequest(&env.EncryptionInfo, s.key, env.CorrelationID)
	if err != nil {
		return nil, err
	}
	return &Request{CorrelationID: env.CorrelationID, Payload: payload, requesterPublic: requesterPublic}, nil
}

// Seal encrypts the answer to req.
func (s *Responder) Seal(ctx context.Context, req *Request, payload []byte) (env *Envelope, err error) {
	if req == nil {
		return nil, errors.New("tunnel: nil request")
	}
	ctx, span := startSpan(ctx, "tunnel.Responder.Seal", req.CorrelationID)
	defer func() { finish(ctx, span, s.metrics, "encrypt_response", err) }()

	info, err := EncryptTunnelResponse(payload, req.requesterPublic, req.CorrelationID)
	if err != nil {
		return nil, err
	}
	return &Envelope{CorrelationID: req.CorrelationID, EncryptionInfo: *info}, nil
}
