package routes

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/handlers"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config     *config.AppConfig
	Logger     *zap.Logger
	Flow       handlers.SignInFlow
	Tokens     handlers.TokenRotator
	Authorizer handlers.AuthorizeURLBuilder
	Keys       handlers.KeyRotator
	JWKS       handlers.JWKSSource
	Metrics    *middleware.HTTPMetrics
	Gatherer   prometheus.Gatherer
	Database   DatabaseChecker
	Cache      CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
// Forwarding headers are honoured only from app.trusted_proxies; with none configured the peer address is the client IP.
func Register(deps Dependencies) (*gin.Engine, error) {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	var proxies []string
	if len(deps.Config.App.TrustedProxies) > 0 {
		proxies = deps.Config.App.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	if len(deps.Config.App.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if deps.JWKS != nil {
		r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.JWKS).Keys)
	}

	v1 := r.Group("/v1")
	if deps.Flow != nil && deps.Tokens != nil {
		handlers.NewAuthHandler(deps.Flow, deps.Tokens, deps.Authorizer).RegisterRoutes(v1.Group("/auth"))

		if deps.Keys != nil {
			keysGroup := v1.Group("/admin/keys")
			keysGroup.Use(middleware.RequireAuth(deps.Tokens), middleware.RequireRole(domain.RoleSuperAdmin))
			handlers.NewKeyHandler(deps.Keys).RegisterRoutes(keysGroup)
		}
	}

	return r, nil
}
