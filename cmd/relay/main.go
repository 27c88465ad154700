// cmd/relay/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/valdren309/oa-compass-admin/internal/audit"
	"github.com/valdren309/oa-compass-admin/internal/config"
	"github.com/valdren309/oa-compass-admin/internal/oa"
	"github.com/valdren309/oa-compass-admin/internal/policy"
	"github.com/valdren309/oa-compass-admin/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	lg, err := telemetry.NewLogger(telemetry.LogConfigFromEnv())
	if err != nil {
		panic(err)
	}
	defer lg.Sync()
	logger := lg.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "oa-relay")
	if err != nil {
		logger.Fatalw("tracing setup failed", "error", err)
	}

	cfg := config.LoadRelay()
	opts := []oa.Option{
		oa.WithLogger(logger.Named("oa")),
		oa.WithLimiter(rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)),
	}

	if cfg.PolicyFile != "" {
		table, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			logger.Fatalw("could not load policy file", "path", cfg.PolicyFile, "error", err)
		}
		opts = append(opts, oa.WithPolicies(table))
		logger.Infow("loaded group policies", "path", cfg.PolicyFile)
	}

	var journal *audit.Journal
	if cfg.DatabaseURL != "" {
		db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalw("could not connect to audit database", "error", err)
		}
		defer db.Close()
		journal = audit.NewJournal(db)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Fatalw("could not prepare audit journal", "error", err)
		}
		opts = append(opts, oa.WithJournal(journal))
	}

	gateway := oa.NewService(cfg.OA, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(oa.AllowOrigins(cfg.AllowedOrigins))
	oa.NewHandler(gateway, logger.Named("relay"), cfg.MaxBodyBytes).Routes(r)
	if journal != nil {
		audit.NewHandler(journal, logger.Named("audit")).Routes(r)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("relay listening", "addr", srv.Addr, "tenant", cfg.OA.Tenant, "audit", cfg.DatabaseURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warnw("tracing shutdown", "error", err)
	}
}
