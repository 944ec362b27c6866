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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sabormirandiano/casino-api/internal/app"
	"github.com/sabormirandiano/casino-api/internal/auth"
	"github.com/sabormirandiano/casino-api/internal/common"
	"github.com/sabormirandiano/casino-api/internal/config"
	"github.com/sabormirandiano/casino-api/internal/health"
	"github.com/sabormirandiano/casino-api/internal/ledger"
	"github.com/sabormirandiano/casino-api/internal/lock"
	"github.com/sabormirandiano/casino-api/internal/merchants"
	"github.com/sabormirandiano/casino-api/internal/obs"
	"github.com/sabormirandiano/casino-api/internal/ratelimit"
	"github.com/sabormirandiano/casino-api/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := obs.NewLogger("json", "info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "casino-api",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	deps, cleanup, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer cleanup()

	router, err := buildRouter(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("env", cfg.AppEnv).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func buildRouter(deps *app.Dependencies) (chi.Router, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	metrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil)
	publicLimit, err := ratelimit.Middleware(deps.Redis, cfg.WebhookRateLimit, "rl:public", logger)
	if err != nil {
		return nil, err
	}

	parser := auth.TokenParser{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		Skew:   cfg.JWTClockSkew,
	}
	devices := auth.DeviceKeys{Hashes: cfg.POSDeviceKeys, Logger: logger}

	paymentHandlers := &merchants.Handlers{Engine: deps.Engine, Store: deps.PaymentStore, Logger: logger}
	ledgerHandlers := ledger.NewHandlers(deps.LedgerService, logger)
	webhook := &merchants.WebhookHandler{
		Registry:  deps.Registry,
		Engine:    deps.Engine,
		Redis:     deps.Redis,
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    logger,
	}
	reconciler := &merchants.Reconciler{
		Registry:  deps.Registry,
		Store:     deps.PaymentStore,
		Engine:    deps.Engine,
		Locker:    lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff},
		MinAge:    cfg.ReconcileMinAge,
		BatchSize: cfg.ReconcileBatchSize,
		LockTTL:   cfg.LockTTL,
		Logger:    logger,
	}
	probes := health.Handler{Pool: deps.Pool, Redis: deps.Redis}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Device-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.Headers)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)

	r.Get("/health/live", probes.Live)
	r.Get("/health/ready", probes.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(security.BodyLimit(cfg.WebhookBodyLimit))
		r.Use(publicLimit)
		r.Post("/{provider}", webhook.Handle)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(security.BodyLimit(1 << 20))

		r.Group(func(r chi.Router) {
			r.Use(publicLimit)
			r.With(idem.Middleware).Post("/topups", ledgerHandlers.Create)
			r.Get("/topups/{code}", ledgerHandlers.Get)
			r.Get("/guardians/{id}/balance", ledgerHandlers.Balance)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.StaffOrDevice(parser, devices, logger))
			r.Mount("/payments", paymentHandlers.Routes())
			r.Post("/reconcile", func(w http.ResponseWriter, req *http.Request) {
				if err := reconciler.Trigger(req.Context()); err != nil {
					common.JSONError(w, http.StatusConflict, "RECONCILE_BUSY", err.Error(), nil)
					return
				}
				common.JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
			})
		})
	})

	return r, nil
}
