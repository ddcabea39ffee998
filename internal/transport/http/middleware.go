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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.HTTPRequest(r, ww.Status(), time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// sessionCredential returns the session id and whether it came from the
// cookie. Non-browser clients may present it as a bearer token instead.
func (h *Handler) sessionCredential(r *http.Request) (string, bool) {
	if sid := h.getSessionFromCookie(r); sid != "" {
		return sid, true
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token), false
		}
	}
	return "", false
}

// AuthMiddleware validates the session and puts the user into context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, fromCookie := h.sessionCredential(r)
		if sessionID == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		sess, err := h.sessionService.Validate(r.Context(), sessionID)
		if err != nil {
			if fromCookie {
				h.clearSessionCookie(w)
			}
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		user, err := h.identityService.GetUser(r.Context(), sess.UserID)
		if err != nil || !user.IsActive {
			respondError(w, http.StatusUnauthorized, "account is not active")
			return
		}

		// Cookie sessions must prove same-origin intent on writes.
		if fromCookie && !isSafeMethod(r.Method) && r.Header.Get("X-CSRF-Token") == "" {
			slog.WarnContext(r.Context(), "missing CSRF token header", logger.String("method", r.Method), logger.String("path", r.URL.Path))
			respondError(w, http.StatusForbidden, "X-CSRF-Token header is required for state-changing operations")
			return
		}

		ctx := withCaller(r.Context(), Caller{
			UserID:    user.ID,
			Username:  user.Username,
			Role:      user.Role,
			SessionID: sess.ID,
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers without the admin role. It must run after
// AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRole(r.Context()) != identity.RoleAdmin {
			respondError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
