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

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
	"github.com/opentrusty/hubtrust/internal/tunnel"
)

// TunnelRequest asks the hub to seal a payload for a Space.
type TunnelRequest struct {
	// Space is the owner's username.
	Space string `json:"space" example:"alice"`
	// Payload is unpadded base64url.
	Payload string `json:"payload" example:"eyJxdWVyeSI6ImhlbGxvIn0"`
}

// TunnelPayloadResponse carries a decrypted response payload as base64url.
type TunnelPayloadResponse struct {
	CorrelationID string `json:"correlation_id"`
	Payload       string `json:"payload"`
}

// SealTunnelRequest encrypts a request to a Space's registered key
// @Summary Seal tunnel request
// @Tags Tunnel
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body TunnelRequest true "Target Space and payload"
// @Success 200 {object} tunnel.Envelope
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tunnel/requests [post]
func (h *Handler) SealTunnelRequest(w http.ResponseWriter, r *http.Request) {
	if h.tunnel == nil {
		respondErrorCode(w, http.StatusServiceUnavailable, "tunnel_not_configured", "tunnel is not configured")
		return
	}

	var req TunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload, err := tunnel.DecodeB64(req.Payload)
	if err != nil {
		respondErrorCode(w, http.StatusBadRequest, "invalid_payload", "payload must be base64url")
		return
	}

	key, err := h.identityService.GetEncryptionKey(r.Context(), req.Space)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "space not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to read encryption key", logger.Username(req.Space), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read encryption key")
		return
	}
	if key == nil {
		respondErrorCode(w, http.StatusConflict, "encryption_key_not_registered", "space has no encryption key")
		return
	}

	env, err := h.tunnel.Seal(r.Context(), payload, *key)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to seal tunnel request", logger.Username(req.Space), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to seal request")
		return
	}
	h.tunnelOwners.DeleteExpired()
	h.tunnelOwners.SetDefault(env.CorrelationID, GetUserID(r.Context()))

	slog.InfoContext(r.Context(), "tunnel request sealed",
		logger.CorrelationID(env.CorrelationID),
		logger.Audience(req.Space),
	)
	respondJSON(w, http.StatusOK, env)
}

// OpenTunnelResponse decrypts a Space's response to a pending request
// @Summary Open tunnel response
// @Tags Tunnel
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body tunnel.Envelope true "Response envelope"
// @Success 200 {object} TunnelPayloadResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tunnel/responses [post]
func (h *Handler) OpenTunnelResponse(w http.ResponseWriter, r *http.Request) {
	if h.tunnel == nil {
		respondErrorCode(w, http.StatusServiceUnavailable, "tunnel_not_configured", "tunnel is not configured")
		return
	}

	var env tunnel.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := env.Validate(); err != nil {
		respondErrorCode(w, http.StatusBadRequest, "malformed_envelope", err.Error())
		return
	}
	if !h.ownsExchange(r, env.CorrelationID) {
		respondErrorCode(w, http.StatusNotFound, "no_pending_exchange", "no pending exchange for correlation id")
		return
	}
	h.tunnelOwners.Delete(env.CorrelationID)

	payload, err := h.tunnel.Open(r.Context(), &env)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to open tunnel response",
			logger.CorrelationID(env.CorrelationID),
			logger.Error(err),
		)
		switch {
		case errors.Is(err, tunnel.ErrNoPendingExchange):
			respondErrorCode(w, http.StatusNotFound, "no_pending_exchange", "no pending exchange for correlation id")
		default:
			// Every other failure surfaces as one opaque error.
			respondErrorCode(w, http.StatusBadRequest, "decryption_failed", "response could not be decrypted")
		}
		return
	}

	respondJSON(w, http.StatusOK, TunnelPayloadResponse{
		CorrelationID: env.CorrelationID,
		Payload:       tunnel.EncodeB64(payload),
	})
}

// AbandonTunnelRequest drops a pending exchange that will not be answered
// @Summary Abandon tunnel request
// @Tags Tunnel
// @Security CookieAuth
// @Param correlationID path string true "Correlation id"
// @Success 204
// @Router /tunnel/requests/{correlationID} [delete]
func (h *Handler) AbandonTunnelRequest(w http.ResponseWriter, r *http.Request) {
	if h.tunnel == nil {
		respondErrorCode(w, http.StatusServiceUnavailable, "tunnel_not_configured", "tunnel is not configured")
		return
	}
	correlationID := chi.URLParam(r, "correlationID")
	if h.ownsExchange(r, correlationID) {
		h.tunnelOwners.Delete(correlationID)
		h.tunnel.Abandon(correlationID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownsExchange reports whether the caller sealed the request for correlationID.
func (h *Handler) ownsExchange(r *http.Request, correlationID string) bool {
	owner, ok := h.tunnelOwners.Get(correlationID)
	return ok && owner.(string) == GetUserID(r.Context())
}
