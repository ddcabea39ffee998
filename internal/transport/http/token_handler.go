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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// TokenResponse carries a minted satellite token.
type TokenResponse struct {
	TargetToken string `json:"target_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AudiencesResponse describes the static audience allowlist.
type AudiencesResponse struct {
	AllowedAudiences []string `json:"allowed_audiences"`
	IdPConfigured    bool     `json:"idp_configured"`
}

// VerifyRequest carries a token presented to the caller's service.
type VerifyRequest struct {
	Token string `json:"token"`
}

const errIdPNotConfigured = "idp_not_configured"

// JWKS publishes the satellite token verification keys
// @Summary JSON Web Key Set
// @Tags IdP
// @Produce json
// @Success 200 {object} keystore.JWKS
// @Failure 503 {object} map[string]string
// @Router /.well-known/jwks.json [get]
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	set, err := h.keys.JWKS()
	if err != nil {
		respondErrorCode(w, http.StatusServiceUnavailable, errIdPNotConfigured, "no signing key is configured")
		return
	}
	body, err := json.Marshal(set)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode key set")
		return
	}

	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Token mints a satellite token for the caller bound to one audience
// @Summary Mint satellite token
// @Tags IdP
// @Produce json
// @Security CookieAuth
// @Param aud query string true "Target audience (Space owner username)"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /token [get]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	principal := idp.Principal{
		ID:       GetUserID(r.Context()),
		Username: GetUsername(r.Context()),
		Role:     GetRole(r.Context()),
	}
	aud := r.URL.Query().Get("aud")

	tok, err := h.issuer.Mint(r.Context(), principal, aud)
	if err != nil {
		switch {
		case errors.Is(err, idp.ErrMissingAudience):
			respondErrorCode(w, http.StatusBadRequest, "missing_audience", "the aud query parameter is required")
		case errors.Is(err, idp.ErrInvalidAudience):
			respondErrorCode(w, http.StatusBadRequest, "invalid_audience",
				fmt.Sprintf("audience %q is not allowed", idp.NormalizeAudience(aud)))
		case errors.Is(err, idp.ErrKeyNotConfigured):
			respondErrorCode(w, http.StatusServiceUnavailable, errIdPNotConfigured, "no signing key is configured")
		default:
			slog.ErrorContext(r.Context(), "failed to mint satellite token", logger.Audience(aud), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to mint token")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, TokenResponse{TargetToken: tok.Value, ExpiresIn: tok.ExpiresIn})
}

// Audiences lists the static audience allowlist
// @Summary Allowed audiences
// @Tags IdP
// @Produce json
// @Success 200 {object} AudiencesResponse
// @Router /token/audiences [get]
func (h *Handler) Audiences(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, AudiencesResponse{
		AllowedAudiences: h.audiences.AllowedAudiences(),
		IdPConfigured:    h.keys.IsConfigured(),
	})
}

// VerifyToken verifies a token presented to the caller's own service. The
// authorized audience is the caller's username, so a service can only
// verify tokens minted for itself.
// @Summary Verify satellite token
// @Tags IdP
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body VerifyRequest true "Token"
// @Success 200 {object} idp.VerificationResult
// @Failure 401 {object} idp.VerificationResult
// @Router /token/verify [post]
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	service := GetUsername(r.Context())
	result := h.verifier.VerifyForService(r.Context(), req.Token, service)

	event := audit.Event{
		ActorID:   GetUserID(r.Context()),
		Resource:  "satellite_token",
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"audience": service},
	}

	if !result.Valid {
		h.metrics.TokenVerified(r.Context(), string(result.Error))
		event.Type = audit.TypeTokenVerificationFailed
		event.Metadata["reason"] = string(result.Error)
		h.auditLogger.Log(r.Context(), event)
		slog.InfoContext(r.Context(), "satellite token rejected",
			logger.Audience(service),
			logger.VerificationError(string(result.Error)),
		)
		respondJSON(w, http.StatusUnauthorized, result)
		return
	}

	h.metrics.TokenVerified(r.Context(), "valid")
	event.Type = audit.TypeTokenVerified
	event.Metadata["subject"] = result.Claims.Subject
	h.auditLogger.Log(r.Context(), event)
	respondJSON(w, http.StatusOK, result)
}
