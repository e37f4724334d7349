package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/core/port"
	"github.com/arklim/marketplace-auth/internal/infra/config"
	"github.com/arklim/marketplace-auth/internal/infra/database"
	kafkainfra "github.com/arklim/marketplace-auth/internal/infra/kafka"
	"github.com/arklim/marketplace-auth/internal/infra/logger"
	redisinfra "github.com/arklim/marketplace-auth/internal/infra/redis"
	"github.com/arklim/marketplace-auth/internal/infra/security"
	"github.com/arklim/marketplace-auth/internal/infra/telemetry"
	postgresrepo "github.com/arklim/marketplace-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/marketplace-auth/internal/repository/redis"
	"github.com/arklim/marketplace-auth/internal/transport/http/middleware"
	"github.com/arklim/marketplace-auth/internal/transport/http/routes"
	"github.com/arklim/marketplace-auth/internal/usecase"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	revocationSyncMaxLag   = 5 * time.Second
)

type Application struct {
	cfg         *config.AppConfig
	engine      *gin.Engine
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *redisinfra.Client
	producer    *kafkainfra.Producer
	revSync     *kafkainfra.RevocationSync
	tracing     *telemetry.TracerProvider
	revocations *usecase.RevocationService
}

// New wires every collaborator. The configuration is validated first so a
// misconfigured process never starts serving.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			app.close(context.Background())
		}
	}()

	app.tracing, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	authMetrics, err := telemetry.NewAuthMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	app.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	repos := postgresrepo.NewRepositories(app.pool)

	app.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	events := app.newEventPublisher()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	verifier, err := security.NewCredentialVerifier(hasher, log)
	if err != nil {
		return nil, fmt.Errorf("init credential verifier: %w", err)
	}

	tokens, err := security.NewTokenManager(security.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTokenTTL,
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	store := app.redis.Client()
	app.revocations = usecase.NewRevocationService(
		redisrepo.NewRevocationRepository(store, cfg.Revocation.KeyPrefix),
		tokens,
		domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Revocation.DegradationPolicy)),
		events,
		authMetrics,
		log,
	)
	if cfg.Revocation.LocalCacheSize > 0 {
		localCache := security.NewRevocationCache(cfg.Revocation.LocalCacheSize)
		app.revocations.WithLocalCache(localCache)
		app.newRevocationSync(localCache, authMetrics)
	}

	limiter := usecase.NewLoginLimiter(
		redisrepo.NewRateLimitRepository(store, cfg.RateLimit.KeyPrefix),
		usecase.LoginTiers{
			Address:  cfg.RateLimit.IP.Tier(domain.TierAddress),
			Identity: cfg.RateLimit.Identity.Tier(domain.TierIdentity),
			Combined: cfg.RateLimit.Combined.Tier(domain.TierCombined),
			Refresh:  cfg.RateLimit.Refresh.Tier(domain.TierRefresh),
		},
		events,
		authMetrics,
		log,
	)

	authService, err := usecase.NewAuthService(usecase.AuthServiceDeps{
		Users:         repos.Users,
		Tokens:        tokens,
		Verifier:      verifier,
		Revocations:   app.revocations,
		Limiter:       limiter,
		Events:        events,
		Metrics:       authMetrics,
		Tracer:        app.tracing.Tracer("github.com/arklim/marketplace-auth/internal/usecase"),
		Logger:        log,
		MinLoginDelay: cfg.Login.MinDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	app.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Auth:        authService,
		Limiter:     limiter,
		HTTPMetrics: httpMetrics,
		Tracer:      app.tracing.Tracer("github.com/arklim/marketplace-auth/internal/transport/http"),
		Database:    app.pool,
		Cache:       app.redis,
	})

	log.Info("application initialized",
		zap.String("revocation_policy", string(app.revocations.Policy().Mode())),
		zap.Duration("min_login_delay", cfg.Login.MinDelay),
	)

	ok = true
	return app, nil
}

func (a *Application) newEventPublisher() port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}

	a.producer = producer
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

// newRevocationSync subscribes the local cache to peers' revocation events when
// enabled. Failing to join the group only loses the cross-instance fast path.
func (a *Application) newRevocationSync(cache *security.RevocationCache, metrics *telemetry.AuthMetrics) {
	if !a.cfg.Kafka.SyncRevocations || len(a.cfg.Kafka.Brokers) == 0 {
		return
	}

	consumer := kafkainfra.NewRevocationConsumer(cache, metrics, a.logger, revocationSyncMaxLag)
	rs, err := kafkainfra.NewRevocationSync(a.cfg.Kafka, consumer, a.logger)
	if err != nil {
		a.logger.Warn("failed to init revocation sync, continuing without it", zap.Error(err))
		return
	}
	a.revSync = rs
}

// Run serves HTTP and sweeps the revocation store until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	shutdownTimeout := a.cfg.App.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.revocations.RunSweeper(sweepCtx, a.cfg.Revocation.SweepInterval)
	}()
	if a.revSync != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.revSync.Run(sweepCtx)
		}()
	}
	defer func() {
		stopSweeper()
		wg.Wait()
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close(ctx context.Context) {
	if a.revSync != nil {
		if err := a.revSync.Close(); err != nil {
			a.logger.Warn("close revocation sync", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	}
}
