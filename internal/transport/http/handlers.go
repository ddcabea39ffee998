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

// @title HubTrust API
// @version 1.0
// @description Satellite token issuance and tunnel key directory for the hub.
// @BasePath /

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name hubtrust_session

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/keystore"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
	"github.com/opentrusty/hubtrust/internal/observability/metrics"
	"github.com/opentrusty/hubtrust/internal/session"
	"github.com/opentrusty/hubtrust/internal/tunnel"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	sessionService  *session.Service
	keys            *keystore.Store
	audiences       *idp.AudienceValidator
	issuer          *idp.Issuer
	verifier        *idp.Verifier
	auditLogger     audit.Logger
	metrics         metrics.Recorder
	metricsHandler  http.Handler
	health          HealthChecker
	sessionConfig   SessionConfig
	tunnel          *tunnel.Requester
	tunnelOwners    *gocache.Cache
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// Dependencies wires a Handler. Metrics, MetricsHandler and Health are
// optional.
type Dependencies struct {
	Identity       *identity.Service
	Sessions       *session.Service
	Keys           *keystore.Store
	Audiences      *idp.AudienceValidator
	Issuer         *idp.Issuer
	Verifier       *idp.Verifier
	Audit          audit.Logger
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	Health         HealthChecker
	Session        SessionConfig
	// Tunnel enables the /tunnel routes. TunnelTTL should match the
	// pending-exchange TTL.
	Tunnel    *tunnel.Requester
	TunnelTTL time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	h := &Handler{
		identityService: deps.Identity,
		sessionService:  deps.Sessions,
		keys:            deps.Keys,
		audiences:       deps.Audiences,
		issuer:          deps.Issuer,
		verifier:        deps.Verifier,
		auditLogger:     deps.Audit,
		metrics:         deps.Metrics,
		metricsHandler:  deps.MetricsHandler,
		health:          deps.Health,
		sessionConfig:   deps.Session,
		tunnel:          deps.Tunnel,
	}
	if h.auditLogger == nil {
		h.auditLogger = audit.NewSlogLogger()
	}
	if h.metrics == nil {
		h.metrics = metrics.Noop{}
	}
	if h.metricsHandler == nil {
		h.metricsHandler = http.NotFoundHandler()
	}
	ttl := deps.TunnelTTL
	if ttl <= 0 {
		ttl = tunnel.DefaultPendingTTL
	}
	h.tunnelOwners = gocache.New(ttl, 0)
	return h
}

// ParseSameSite maps a config value to http.SameSite, defaulting to Lax.
func ParseSameSite(s string) http.SameSite {
	switch s {
	case "Strict", "strict":
		return http.SameSiteStrictMode
	case "None", "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", h.metricsHandler)

	// RFC 7517
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Get("/jwks.json", h.JWKS)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.With(h.AuthMiddleware).Get("/me", h.GetCurrentUser)
		r.With(h.AuthMiddleware).Post("/change-password", h.ChangePassword)
	})

	r.Get("/token/audiences", h.Audiences)
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/token", h.Token)
		r.Post("/token/verify", h.VerifyToken)
	})

	r.Route("/nats", func(r chi.Router) {
		r.With(h.AuthMiddleware).Put("/encryption-key", h.PutEncryptionKey)
		r.Get("/encryption-key/{username}", h.GetEncryptionKey)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Use(RequireAdmin)
		r.Post("/keys/rotate", h.RotateSigningKey)
		r.Post("/users/{username}/deactivate", h.DeactivateUser)
	})

	r.Route("/tunnel", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Post("/requests", h.SealTunnelRequest)
		r.Delete("/requests/{correlationID}", h.AbandonTunnelRequest)
		r.Post("/responses", h.OpenTunnelResponse)
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service and its database are reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":         "healthy",
		"service":        "hubtrust",
		"idp_configured": h.keys.IsConfigured(),
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", logger.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}
	respondJSON(w, status, body)
}

// RegisterRequest represents a new account. The username is also the
// audience of the account's Space.
type RegisterRequest struct {
	Username string `json:"username" example:"syftai-space"`
	Email    string `json:"email,omitempty" example:"owner@example.com"`
	Password string `json:"password" example:"correct horse battery"`
}

// Register handles self-registration
// @Summary Register
// @Description Create a user account with the user role
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Account"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Register(r.Context(), req.Username, req.Email, req.Password, identity.RoleUser)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidUsername):
			respondError(w, http.StatusBadRequest, "invalid username")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "failed to register user", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password" example:"correct horse battery"`
}

// Login handles user login
// @Summary Login
// @Description Authenticate user and create a session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	// The identity service audits every failure with its reason; the
	// response does not distinguish them.
	user, err := h.identityService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrAccountLocked) {
			respondError(w, http.StatusTooManyRequests, "account is temporarily locked")
			return
		}
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sess, err := h.sessionService.Create(r.Context(), user.ID, getClientIP(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    user.ID,
		"username":   user.Username,
		"expires_at": sess.ExpiresAt,
	})
}

// Logout handles user logout
// @Summary Logout
// @Description Destroy the current session
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := h.sessionCredential(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := h.sessionService.Validate(r.Context(), sessionID)
	if err == nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLogout,
			ActorID:   sess.UserID,
			Resource:  "session",
			IPAddress: getClientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err := h.sessionService.Revoke(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to revoke session", logger.Error(err))
		}
	}

	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the current authenticated user
// @Summary Get Current User
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.identityService.GetUser(r.Context(), GetUserID(r.Context()))
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":               user.ID,
		"username":              user.Username,
		"email":                 user.Email,
		"role":                  user.Role,
		"encryption_public_key": user.EncryptionPublicKey,
	})
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword changes the caller's password and ends all of their
// sessions, including the current one.
// @Summary Change Password
// @Tags Auth
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body ChangePasswordRequest true "Passwords"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.identityService.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "failed to change password", logger.UserID(userID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	if err := h.sessionService.RevokeAll(r.Context(), userID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke sessions after password change", logger.UserID(userID), logger.Error(err))
	}
	h.clearSessionCookie(w)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypePasswordChanged,
		ActorID:   userID,
		Resource:  "user_credentials",
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed, sign in again",
	})
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   int(h.sessionService.Lifetime() / time.Second),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondErrorCode writes a machine readable error code with a message.
func respondErrorCode(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
