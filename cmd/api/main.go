package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cladams7905/zencourt-sub009/internal/adapter/memory"
	"github.com/cladams7905/zencourt-sub009/internal/adapter/redisclaims"
	"github.com/cladams7905/zencourt-sub009/internal/adapter/repo"
	"github.com/cladams7905/zencourt-sub009/internal/breaker"
	"github.com/cladams7905/zencourt-sub009/internal/dispatch"
	"github.com/cladams7905/zencourt-sub009/internal/domain"
	"github.com/cladams7905/zencourt-sub009/internal/http/handlers"
	httpapi "github.com/cladams7905/zencourt-sub009/internal/http/httpapi"
	"github.com/cladams7905/zencourt-sub009/internal/infra"
	"github.com/cladams7905/zencourt-sub009/internal/infra/credentials"
	"github.com/cladams7905/zencourt-sub009/internal/metrics"
	"github.com/cladams7905/zencourt-sub009/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	var (
		jobs  domain.JobRepository = memory.NewJobRepository()
		creds *credentials.Store
	)
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		runner := infra.NewSQLRunner(dbpool, logger)
		jobs = repo.NewJobRepository(runner)
		creds = credentials.NewStore(runner)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, jobs are kept in memory")
	}

	var claims webhook.ClaimStore
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		claims = redisclaims.New(rdb, "zencourt:")
	}

	m := metrics.New()
	breakers := breaker.NewRegistry(breaker.Settings{
		Threshold:   cfg.BreakerFailureThreshold,
		Cooldown:    cfg.BreakerCooldown,
		MaxCooldown: cfg.BreakerMaxCooldown,
		Multiplier:  cfg.BreakerCooldownMultiplier,
		Logger:      &logger,
		OnStateChange: func(provider string, _, to breaker.State) {
			m.CircuitState(provider, circuitGauge(to))
		},
	})

	chains, err := buildChains(ctx, cfg, creds, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure video providers")
	}

	orch := dispatch.New(dispatch.Options{
		Repo:             jobs,
		Breakers:         breakers,
		Concurrency:      cfg.DispatchConcurrency,
		BatchTimeout:     cfg.DispatchBatchTimeout,
		TransientRetries: cfg.DispatchTransientRetries,
		Metrics:          m,
		Logger:           &logger,
	})
	sender := webhook.NewSender(webhook.SenderOptions{
		Timeout: cfg.WebhookTimeout,
		Metrics: m,
		Logger:  &logger,
	})
	intake := webhook.NewIntake(webhook.IntakeOptions{
		Repo:              jobs,
		Claims:            claims,
		Sender:            sender,
		DefaultWebhookURL: cfg.ClientWebhookURL,
		SigningSecret:     cfg.WebhookSigningSecret,
		MaxRetries:        cfg.WebhookMaxRetries,
		Backoff:           cfg.WebhookBackoff,
		MaxBackoff:        cfg.WebhookMaxBackoff,
		Metrics:           m,
		Logger:            &logger,
	})

	app := handlers.NewApp(handlers.Deps{
		Repo:         jobs,
		Orchestrator: orch,
		Chains:       chains,
		Intake:       intake,
		Breakers:     breakers,
		Metrics:      m,
		Logger:       &logger,
	})
	router := httpapi.NewRouter(app, httpapi.Options{Logger: &logger, RateLimitPerMin: cfg.RateLimitPerMin})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()
	if err := app.Wait(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("webhook processing still in flight at exit")
	}
	logger.Info().Msg("server stopped")
}

func circuitGauge(s breaker.State) int {
	switch s {
	case breaker.StateOpen:
		return metrics.CircuitOpen
	case breaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
