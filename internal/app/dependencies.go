package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sabormirandiano/casino-api/internal/config"
	"github.com/sabormirandiano/casino-api/internal/db"
	"github.com/sabormirandiano/casino-api/internal/ledger"
	"github.com/sabormirandiano/casino-api/internal/merchants"
	"github.com/sabormirandiano/casino-api/internal/notify"
	"github.com/sabormirandiano/casino-api/internal/obs"
	"github.com/sabormirandiano/casino-api/internal/resilience"
)

// Dependencies groups the shared wiring both binaries build on.
type Dependencies struct {
	Cfg    *config.Config
	Logger zerolog.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Registry      *merchants.Registry
	PaymentStore  *merchants.PGStore
	Engine        *merchants.Engine
	Checkout      *merchants.CheckoutService
	LedgerStore   *ledger.PGStore
	LedgerService *ledger.Service

	AsynqClient *asynq.Client
	RedisOpt    asynq.RedisConnOpt
}

// Build runs migrations and constructs the dependency graph. The returned
// cleanup closes every connection it opened.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, func(), error) {
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := db.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("parse redis uri for task queue: %w", err)
	}
	asynqClient := asynq.NewClient(redisOpt)

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	registry := merchants.NewRegistry()
	if err := registry.Register(merchants.Cafeteria{}); err != nil {
		return nil, nil, err
	}
	if cfg.KhipuAPIKey != "" {
		breaker := resilience.NewBreaker(merchants.KeyKhipu,
			cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor, logger)
		if err := registry.Register(merchants.Khipu{
			APIKey:    cfg.KhipuAPIKey,
			Secret:    cfg.KhipuSecret,
			BaseURL:   cfg.KhipuBaseURL,
			NotifyURL: cfg.PublicBaseURL + "/webhooks/" + merchants.KeyKhipu,
			HTTP: resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     breaker,
				Target:      merchants.KeyKhipu,
				Logger:      logger,
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseBackoff: cfg.RetryBase,
				Jitter:      cfg.RetryJitterPercent,
				Timeout:     cfg.OutboundTimeout,
			},
		}); err != nil {
			return nil, nil, err
		}
	}
	if cfg.DummyEnabled {
		if err := registry.Register(merchants.NewDummy()); err != nil {
			return nil, nil, err
		}
	}

	paymentStore := merchants.NewPGStore(pool)
	engine := &merchants.Engine{
		Store: paymentStore,
		Dispatcher: &notify.AsynqDispatcher{
			Client:   asynqClient,
			Queue:    cfg.NotifyQueue,
			MaxRetry: cfg.NotifyMaxRetry,
			Logger:   logger,
		},
		Logger: logger,
	}
	checkout := &merchants.CheckoutService{
		Registry: registry,
		Store:    paymentStore,
		Logger:   logger,
	}
	ledgerStore := ledger.NewPGStore(pool)
	ledgerService := &ledger.Service{
		Store:         ledgerStore,
		Checkout:      checkout,
		Payments:      paymentStore,
		DefaultMethod: cfg.DefaultProvider,
		Currency:      cfg.CurrencyCode,
		Logger:        logger,
	}

	deps := &Dependencies{
		Cfg:           cfg,
		Logger:        logger,
		Pool:          pool,
		Redis:         redisClient,
		Registry:      registry,
		PaymentStore:  paymentStore,
		Engine:        engine,
		Checkout:      checkout,
		LedgerStore:   ledgerStore,
		LedgerService: ledgerService,
		AsynqClient:   asynqClient,
		RedisOpt:      redisOpt,
	}
	cleanup := func() {
		_ = asynqClient.Close()
		_ = redisClient.Close()
		pool.Close()
	}
	return deps, cleanup, nil
}
