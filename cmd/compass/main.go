// cmd/compass/main.go
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
	"github.com/joho/godotenv"

	"github.com/valdren309/oa-compass-admin/internal/clients"
	"github.com/valdren309/oa-compass-admin/internal/config"
	"github.com/valdren309/oa-compass-admin/internal/oa"
	"github.com/valdren309/oa-compass-admin/internal/patron"
	"github.com/valdren309/oa-compass-admin/internal/settings"
	"github.com/valdren309/oa-compass-admin/internal/telemetry"
	"github.com/valdren309/oa-compass-admin/internal/workflow"
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

	shutdownTracing, err := telemetry.SetupTracing(ctx, "oa-compass")
	if err != nil {
		logger.Fatalw("tracing setup failed", "error", err)
	}

	cfg := config.LoadCompass()
	if cfg.AlmaAPIKey == "" {
		logger.Warn("ALMA_API_KEY not set; patron lookups will fail")
	}

	var store settings.Store = settings.NewMemoryStore()
	if rdb := settings.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); rdb != nil {
		defer rdb.Close()
		store = settings.NewRedisStore(rdb, "")
		logger.Infow("settings stored in redis", "addr", cfg.RedisAddr)
	} else if cfg.RedisAddr != "" {
		logger.Warnw("redis unreachable, settings kept in memory", "addr", cfg.RedisAddr)
	}

	patrons := patron.NewService(clients.NewAlmaClient(cfg.AlmaBaseURL, cfg.AlmaAPIKey, cfg.AlmaTimeout), logger.Named("patron"))
	prefs := settings.NewService(store, logger.Named("settings"))
	gateway := func(baseURL string) oa.Service {
		return clients.NewRelayClient(baseURL, cfg.RelayTimeout)
	}
	flows := workflow.NewService(patrons, prefs, gateway, cfg.RelayBaseURL, logger.Named("workflow"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"service":"oa-compass"}`))
	})
	workflow.NewHandler(flows, patrons, prefs, logger.Named("panel")).Routes(r)
	settings.NewHandler(prefs).Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("compass listening", "addr", srv.Addr, "relay", cfg.RelayBaseURL)
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
