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
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// RotateKeyRequest optionally names the new signing key.
type RotateKeyRequest struct {
	KeyID string `json:"kid,omitempty"`
}

// RotateSigningKey installs a new signing key. Previous keys stay in the JWKS
// until they fall out of retention.
// @Summary Rotate satellite signing key
// @Tags Admin
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body RotateKeyRequest false "Optional kid"
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Router /admin/keys/rotate [post]
func (h *Handler) RotateSigningKey(w http.ResponseWriter, r *http.Request) {
	var req RotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kp, err := h.keys.Rotate(req.KeyID)
	if err != nil {
		slog.ErrorContext(r.Context(), "signing key rotation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to rotate signing key")
		return
	}

	slog.InfoContext(r.Context(), "signing key rotated", logger.KeyID(kp.KID))
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeSigningKeyRotated,
		ActorID:   GetUserID(r.Context()),
		Resource:  "signing_key",
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"kid": kp.KID, "size_bits": kp.SizeBits},
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"kid":      kp.KID,
		"retained": len(h.keys.Keys()),
	})
}

// DeactivateUser disables an account and ends its sessions. The username
// stops being a token audience and its encryption key is no longer served.
// @Summary Deactivate user
// @Tags Admin
// @Produce json
// @Security CookieAuth
// @Param username path string true "Username"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /admin/users/{username}/deactivate [post]
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.identityService.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to look up user", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to deactivate user")
		return
	}
	if user.ID == GetUserID(r.Context()) {
		respondError(w, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	if err := h.identityService.Deactivate(r.Context(), user.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to deactivate user", logger.UserID(user.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to deactivate user")
		return
	}
	if err := h.sessionService.RevokeAll(r.Context(), user.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke sessions of deactivated user", logger.UserID(user.ID), logger.Error(err))
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeUserDeactivated,
		ActorID:   GetUserID(r.Context()),
		Resource:  "user",
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"user_id": user.ID, "username": user.Username},
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"username": user.Username,
		"active":   false,
	})
}
