// Copyright 2026 The PayrollKit Authors
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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/payrollkit/payrollkit/internal/config"
	"github.com/payrollkit/payrollkit/internal/dbconn"
	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/observability/metrics"
	"github.com/payrollkit/payrollkit/internal/observability/tracing"
	"github.com/payrollkit/payrollkit/internal/provision"
	"github.com/payrollkit/payrollkit/internal/schema"
	"github.com/payrollkit/payrollkit/internal/session"
	"github.com/payrollkit/payrollkit/internal/store/postgres"
	"github.com/payrollkit/payrollkit/internal/tenant"
	transportHTTP "github.com/payrollkit/payrollkit/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTELExport:  cfg.Observability.OTELEnabled,
	})
	slog.Info("starting payrollkit platform")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracing
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", logger.Error(err))
	}
	defer shutdownTracing(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	platformMetrics, err := metrics.NewPlatform(meter)
	if err != nil {
		slog.Error("failed to initialize platform metrics", logger.Error(err))
	}

	// Connection registry: a fixed control-plane pool plus keyed tenant pools.
	conns, err := dbconn.New(ctx, controlParams(cfg), tenantTemplate(cfg), cfg.TenantDB.MaxPools)
	if err != nil {
		slog.Error("failed to connect to control-plane database", logger.Error(err))
		os.Exit(1)
	}
	defer conns.Close()
	slog.Info("connected to control-plane database")

	// Initialize repositories
	db := postgres.NewDB(conns.Control())
	tenantRepo := postgres.NewTenantRepository(db)
	applicationRepo := postgres.NewApplicationRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	dbAdmin := postgres.NewDatabaseAdmin(db)

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	tenantService := tenant.NewService(tenantRepo, applicationRepo, auditLogger)
	sessionService := session.NewService(sessionRepo, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	provisionService := provision.NewService(
		tenantRepo,
		applicationRepo,
		dbAdmin,
		conns,
		schema.TenantMigrator{},
		auditLogger,
		provision.Config{
			Encoding:         cfg.Provisioning.Encoding,
			Collation:        cfg.Provisioning.Collation,
			OperationTimeout: cfg.Provisioning.OperationTimeout,
		},
	)
	var resolver tenant.Resolver
	switch cfg.TenantResolution.Mode {
	case config.ResolutionHost:
		resolver = tenant.NewHostResolver(tenantRepo)
	default:
		resolver = tenant.NewPrincipalResolver(tenantRepo, auditLogger)
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	// Configure SameSite mode
	sameSite := http.SameSiteLaxMode
	switch cfg.Session.CookieSameSite {
	case "Strict":
		sameSite = http.SameSiteStrictMode
	case "None":
		sameSite = http.SameSiteNoneMode
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		tenantService,
		provisionService,
		sessionService,
		resolver,
		conns,
		auditLogger,
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: sameSite,
		},
		cfg.Auth.OperatorTokenSecret,
	).WithMetrics(platformMetrics)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := sessionService.CleanupExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func controlParams(cfg *config.Config) dbconn.Params {
	return dbconn.Params{
		Host:         cfg.ControlDB.Host,
		Port:         cfg.ControlDB.Port,
		User:         cfg.ControlDB.User,
		Password:     cfg.ControlDB.Password,
		Database:     cfg.ControlDB.Database,
		SSLMode:      cfg.ControlDB.SSLMode,
		MaxOpenConns: cfg.ControlDB.MaxOpenConns,
		MaxIdleConns: cfg.ControlDB.MaxIdleConns,
	}
}

func tenantTemplate(cfg *config.Config) dbconn.Params {
	return dbconn.Params{
		Host:           cfg.TenantDB.Host,
		Port:           cfg.TenantDB.Port,
		User:           cfg.TenantDB.User,
		Password:       cfg.TenantDB.Password,
		SSLMode:        cfg.TenantDB.SSLMode,
		MaxOpenConns:   cfg.TenantDB.MaxOpenConns,
		MaxIdleConns:   cfg.TenantDB.MaxIdleConns,
		ConnectTimeout: cfg.TenantDB.ConnectTimeout,
	}
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()

	fmt.Println("Applying control-plane schema...")
	if err := schema.ApplyControl(ctx, controlParams(cfg).URL()); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
