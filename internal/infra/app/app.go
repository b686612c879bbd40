package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/database"
	kafkainfra "github.com/danielp1234/saas-metrics-sub000/internal/infra/kafka"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/oauth"
	redisinfra "github.com/danielp1234/saas-metrics-sub000/internal/infra/redis"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/security"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/telemetry"
	postgresrepo "github.com/danielp1234/saas-metrics-sub000/internal/repository/postgres"
	redisrepo "github.com/danielp1234/saas-metrics-sub000/internal/repository/redis"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/middleware"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/routes"
	"github.com/danielp1234/saas-metrics-sub000/internal/usecase"
)

const defaultShutdownTimeout = 15 * time.Second

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	keys     *security.KeyManager
	producer *kafkainfra.Producer
	consumer *kafkainfra.RevocationConsumer
	tracing  *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.tracing, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	authMetrics, err := telemetry.NewAuthMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	// Without brokers events are only logged.
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		a.producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		eventPublisher = kafkainfra.NewEventPublisher(a.producer, cfg.App, log)
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	redisClient := a.redis.Client()
	a.keys, err = newKeyManager(cfg.Encryption, redisrepo.NewKeyRingRepository(redisClient, cfg.Redis.KeyRingPrefix), log)
	if err != nil {
		return nil, fmt.Errorf("init key manager: %w", err)
	}
	a.keys.WithMetrics(authMetrics).WithPublisher(eventPublisher)
	if err = a.keys.Sync(ctx); err != nil {
		log.Warn("initial key ring load failed", zap.Error(err))
	}

	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider, cfg.JWT.Issuer, cfg.JWT.Audience)

	sessions := redisrepo.NewSessionStore(redisClient, cfg.Session.KeyPrefix)
	revocations := redisrepo.NewRevocationRepository(redisClient, cfg.Redis.RevocationPrefix)
	rateLimitStore := redisrepo.NewFixedWindowStore(redisClient, cfg.Redis.RateLimitPrefix)
	denylist := security.NewJTIDenylistCache(security.JTIDenylistOptions{})

	limiter := usecase.NewRateLimiter(rateLimitStore, usecase.RateLimitPolicy{
		Window: cfg.RateLimit.WindowDuration,
		Limits: map[usecase.RateLimitScope]int{
			usecase.RateLimitScopeLogin:   cfg.RateLimit.LoginMaxAttempts,
			usecase.RateLimitScopeRefresh: cfg.RateLimit.RefreshMaxAttempts,
		},
		StoreTimeout: cfg.RateLimit.StoreTimeout,
		Degradation:  domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.RateLimit.DegradationPolicy)),
	}, log).
		WithMetrics(authMetrics).
		WithPublisher(eventPublisher)

	tokens := usecase.NewTokenService(usecase.TokenServiceConfig{
		AccessTokenTTL:        cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL:       cfg.JWT.RefreshTokenTTL,
		MaxConcurrentSessions: cfg.Session.MaxConcurrent,
		StrictIPPinning:       cfg.Session.StrictIPPinning,
		StoreTimeout:          cfg.RateLimit.StoreTimeout,
	}, jwtManager, a.keys, sessions, revocations, limiter, log).
		WithDenylist(denylist).
		WithPublisher(eventPublisher).
		WithMetrics(authMetrics)

	identityProvider, err := oauth.NewClient(cfg.OAuth, log)
	if err != nil {
		return nil, fmt.Errorf("init oauth client: %w", err)
	}

	var directory port.RoleDirectory
	if cfg.Postgres.Enabled || cfg.Roles.DirectoryEnabled {
		a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if cfg.Postgres.AutoMigrate {
			if err = database.Migrate(ctx, a.pool, log); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		directory = postgresrepo.NewRoleDirectory(a.pool)
	}
	roles := usecase.NewRoleService(directory, usecase.RolePolicy{
		AdminDomains:     cfg.Roles.AdminDomains,
		SuperAdminEmails: cfg.Roles.SuperAdminEmails,
	}, log)

	flow := usecase.NewAuthenticationFlow(identityProvider, roles, limiter, tokens, sessions, log).
		WithPublisher(eventPublisher).
		WithMetrics(authMetrics).
		WithStoreTimeout(cfg.RateLimit.StoreTimeout).
		WithLogoutFingerprintPrefix(cfg.Session.LogoutFingerprintPrefixLen)

	if a.producer != nil && cfg.Kafka.ConsumeRevocations {
		a.consumer = kafkainfra.NewRevocationConsumer(denylist, log, kafkainfra.RevocationConsumerOptions{
			MaxEventLag: cfg.Kafka.MaxEventLag,
		})
	}

	deps := routes.Dependencies{
		Config:     cfg,
		Logger:     log,
		Flow:       flow,
		Tokens:     tokens,
		Authorizer: identityProvider,
		Keys:       a.keys,
		JWKS:       jwtManager,
		Metrics:    httpMetrics,
		Gatherer:   registry,
		Cache:      a.redis,
	}
	if a.pool != nil {
		deps.Database = a.pool
	}
	a.engine, err = routes.Register(deps)
	if err != nil {
		return nil, fmt.Errorf("init routes: %w", err)
	}

	return a, nil
}

// newKeyManager seeds version 1 from the shared key or passphrase. With a shared key, later versions
// live in the Redis key ring wrapped under it, so every instance decrypts the others' refresh tokens.
func newKeyManager(cfg config.EncryptionSettings, ring port.KeyRingStore, log *zap.Logger) (*security.KeyManager, error) {
	algorithm, err := security.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	var initial []byte
	switch {
	case cfg.InitialKey != "":
		initial, err = base64.StdEncoding.DecodeString(cfg.InitialKey)
		if err != nil {
			return nil, fmt.Errorf("decode encryption.initial_key: %w", err)
		}
	case cfg.Passphrase != "":
		initial, err = security.DeriveKeyFromPassphrase(cfg.Passphrase, []byte(cfg.PassphraseSalt))
		if err != nil {
			return nil, err
		}
	default:
		log.Warn("no shared encryption key configured, refresh tokens are only valid on this instance")
		ring = nil
	}

	return security.NewKeyManager(security.KeyManagerOptions{
		Algorithm:        algorithm,
		RotationInterval: cfg.RotationInterval,
		Retention:        cfg.Retention,
		MaxVersions:      cfg.MaxVersions,
		SyncInterval:     cfg.SyncInterval,
		InitialKey:       initial,
		Store:            ring,
	}, log)
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	a.keys.Start(ctx)

	consumerDone := make(chan struct{})
	if a.consumer != nil {
		go func() {
			defer close(consumerDone)
			if err := kafkainfra.RunRevocationConsumer(ctx, a.cfg.Kafka, a.consumer, a.logger); err != nil {
				a.logger.Error("revocation consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           otelhttp.NewHandler(a.engine, a.cfg.App.Name),
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
		timeout := a.cfg.App.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		<-consumerDone
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close() {
	if a.keys != nil {
		a.keys.Stop()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.tracing.Shutdown(context.Background()); err != nil {
		a.logger.Warn("shutdown tracing", zap.Error(err))
	}
	_ = a.logger.Sync()
}
