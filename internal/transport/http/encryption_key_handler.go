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
)

// EncryptionKeyRequest registers a Space's tunnel public key.
type EncryptionKeyRequest struct {
	EncryptionPublicKey string `json:"encryption_public_key" example:"q1cL0ZkN2s5Hq6xg9Qm2Yx8Wf3h0cPz3bFvKjD4eT1A"`
}

// EncryptionKeyResponse is a user's tunnel public key, null when unset.
type EncryptionKeyResponse struct {
	EncryptionPublicKey *string `json:"encryption_public_key"`
}

// PutEncryptionKey registers the caller's X25519 public key
// @Summary Register tunnel encryption key
// @Tags Tunnel
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body EncryptionKeyRequest true "Public key (32 bytes, base64url)"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /nats/encryption-key [put]
func (h *Handler) PutEncryptionKey(w http.ResponseWriter, r *http.Request) {
	var req EncryptionKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, err := h.identityService.SetEncryptionKey(r.Context(), GetUserID(r.Context()), req.EncryptionPublicKey)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidEncryptionKey):
			respondErrorCode(w, http.StatusBadRequest, "invalid_encryption_key", err.Error())
		case errors.Is(err, identity.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "user not found")
		default:
			slog.ErrorContext(r.Context(), "failed to register encryption key", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to register encryption key")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetEncryptionKey returns a Space owner's tunnel public key
// @Summary Look up tunnel encryption key
// @Tags Tunnel
// @Produce json
// @Param username path string true "Space owner"
// @Success 200 {object} EncryptionKeyResponse
// @Failure 404 {object} map[string]string
// @Router /nats/encryption-key/{username} [get]
func (h *Handler) GetEncryptionKey(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	key, err := h.identityService.GetEncryptionKey(r.Context(), username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to read encryption key", logger.Username(username), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read encryption key")
		return
	}

	respondJSON(w, http.StatusOK, EncryptionKeyResponse{EncryptionPublicKey: key})
}
