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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opentrusty/hubtrust/internal/audit"
	"github.com/opentrusty/hubtrust/internal/config"
	"github.com/opentrusty/hubtrust/internal/identity"
	"github.com/opentrusty/hubtrust/internal/idp"
	"github.com/opentrusty/hubtrust/internal/keystore"
	"github.com/opentrusty/hubtrust/internal/observability/logger"
	"github.com/opentrusty/hubtrust/internal/observability/metrics"
	"github.com/opentrusty/hubtrust/internal/observability/tracing"
	"github.com/opentrusty/hubtrust/internal/session"
	"github.com/opentrusty/hubtrust/internal/store/postgres"
	"github.com/opentrusty/hubtrust/internal/store/redis"
	transportHTTP "github.com/opentrusty/hubtrust/internal/transport/http"
	"github.com/opentrusty/hubtrust/internal/tunnel"
)

const (
	sessionCleanupInterval   = time.Hour
	rateLimitCleanupInterval = time.Minute
	shutdownTimeout          = 30 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTel:        cfg.Observability.OTELEnabled,
	})
	slog.Info("starting hubtrust")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdownWithTimeout(tracer.Shutdown)

	// Initialize meter
	meter, err := metrics.New(metrics.Config{
		Enabled:   cfg.Observability.MetricsEnabled,
		Namespace: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	defer shutdownWithTimeout(meter.Shutdown)
	recorder, err := metrics.NewRecorder(meter)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to database")

	auditLogger := audit.NewSlogLogger()
	identityOpts := []identity.ServiceOption{}
	health := []transportHTTP.HealthChecker{db.Ping}

	// Redis is optional; without it key lookups go straight to the database.
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		identityOpts = append(identityOpts, identity.WithKeyCache(redis.NewKeyCache(rdb, cfg.Redis.KeyTTL)))
		health = append(health, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		slog.Info("connected to redis", logger.String("addr", cfg.Redis.Addr))
	}

	keys, err := loadSigningKeys(cfg.IdP)
	if err != nil {
		return err
	}

	// Initialize services
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	identityService := identity.NewService(
		postgres.NewUserRepository(db),
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
		identityOpts...,
	)
	if err := identityService.Bootstrap(ctx, identity.BootstrapConfig{
		Username: cfg.Bootstrap.AdminUsername,
		Email:    cfg.Bootstrap.AdminEmail,
		Password: cfg.Bootstrap.AdminPassword,
	}); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	sessionService := session.NewService(postgres.NewSessionRepository(db), cfg.Session.Lifetime, cfg.Session.IdleTimeout)

	audiences := idp.NewAudienceValidator(identityService, cfg.IdP.AllowedAudiences)
	issuer := idp.NewIssuer(keys, audiences, cfg.IdP.Issuer, cfg.IdP.TokenTTL,
		idp.WithAuditLogger(auditLogger),
		idp.WithMetrics(recorder),
	)
	verifier := idp.NewVerifier(keys, cfg.IdP.Issuer)

	pending := tunnel.NewPendingExchanges(cfg.Tunnel.PendingTTL, recorder)
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	handler := transportHTTP.NewHandler(transportHTTP.Dependencies{
		Identity:       identityService,
		Sessions:       sessionService,
		Keys:           keys,
		Audiences:      audiences,
		Issuer:         issuer,
		Verifier:       verifier,
		Audit:          auditLogger,
		Metrics:        recorder,
		MetricsHandler: meter.Handler(),
		Health:         allHealthy(health),
		Session: transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: transportHTTP.ParseSameSite(cfg.Session.CookieSameSite),
		},
		Tunnel:    tunnel.NewRequester(pending, recorder),
		TunnelTTL: cfg.Tunnel.PendingTTL,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		pending.Run(gctx, cfg.Tunnel.SweepInterval)
		return nil
	})

	g.Go(func() error {
		rateLimiter.Run(gctx, rateLimitCleanupInterval)
		return nil
	})

	g.Go(func() error {
		cleanupSessions(gctx, sessionService)
		return nil
	})

	return g.Wait()
}

// loadSigningKeys installs the configured key pair, or generates an
// ephemeral one when none is configured.
func loadSigningKeys(cfg config.IdPConfig) (*keystore.Store, error) {
	keys := keystore.New(
		keystore.WithKeySize(cfg.KeySize),
		keystore.WithRetained(cfg.RetainedKeys),
	)
	if cfg.PrivateKeyPEM != "" {
		if err := keys.LoadFromEncodedPEM(cfg.PrivateKeyPEM, cfg.PublicKeyPEM, cfg.KeyID); err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
	} else {
		slog.Warn("IDP_PRIVATE_KEY not set, generating an ephemeral signing key; tokens will not survive a restart")
		if err := keys.Generate(cfg.KeyID); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	kid, err := keys.CurrentKeyID()
	if err != nil {
		return nil, err
	}
	slog.Info("signing key ready", logger.KeyID(kid))
	return keys, nil
}

func cleanupSessions(ctx context.Context, sessions *session.Service) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.CleanupExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
				continue
			}
			slog.DebugContext(ctx, "expired sessions removed", logger.RowsAffected(n))
		}
	}
}

func allHealthy(checks []transportHTTP.HealthChecker) transportHTTP.HealthChecker {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func shutdownWithTimeout(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Error("shutdown error", logger.Error(err))
	}
}
