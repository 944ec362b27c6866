package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/app"
	"github.com/sabormirandiano/casino-api/internal/common"
	"github.com/sabormirandiano/casino-api/internal/config"
	"github.com/sabormirandiano/casino-api/internal/lock"
	"github.com/sabormirandiano/casino-api/internal/merchants"
	"github.com/sabormirandiano/casino-api/internal/notify"
	"github.com/sabormirandiano/casino-api/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := obs.NewLogger("json", "info")
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "casino-worker",
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

	// Audit logging in the worker never depends on the relay being up.
	var email common.EmailSender = common.NopEmailSender{}
	switch {
	case cfg.NotifyEmailEnabled && cfg.SMTPAddr != "":
		email = common.SMTPEmail{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.NotifyEmailFrom,
		}
		logger.Info().Str("relay", cfg.SMTPAddr).Str("from", cfg.NotifyEmailFrom).Msg("email notifications enabled")
	case cfg.NotifyEmailEnabled:
		logger.Warn().Msg("NOTIFY_EMAIL_ENABLED is set but SMTP_ADDR is empty, emails disabled")
	}
	worker := &notify.Worker{
		Email:     email,
		Guardians: deps.LedgerStore,
		Logger:    logger,
	}
	mux := asynq.NewServeMux()
	worker.Register(mux)

	server := asynq.NewServer(deps.RedisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{cfg.NotifyQueue: 1},
		Logger:      asynqZerolog{logger},
	})

	reconciler := &merchants.Reconciler{
		Registry:  deps.Registry,
		Store:     deps.PaymentStore,
		Engine:    deps.Engine,
		Locker:    lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff},
		Interval:  cfg.ReconcileInterval,
		MinAge:    cfg.ReconcileMinAge,
		BatchSize: cfg.ReconcileBatchSize,
		LockTTL:   cfg.LockTTL,
		Logger:    logger,
	}
	go reconciler.Run(ctx)

	go func() {
		logger.Info().Str("queue", cfg.NotifyQueue).Msg("worker running")
		if err := server.Run(mux); err != nil {
			logger.Error().Err(err).Msg("task server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	server.Shutdown()
}

// asynqZerolog adapts zerolog to asynq's logger interface.
type asynqZerolog struct {
	l zerolog.Logger
}

func (a asynqZerolog) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqZerolog) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqZerolog) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqZerolog) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqZerolog) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
