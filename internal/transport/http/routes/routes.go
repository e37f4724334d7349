package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/infra/config"
	"github.com/arklim/marketplace-auth/internal/transport/http/handlers"
	"github.com/arklim/marketplace-auth/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Auth        handlers.Authenticator
	Limiter     middleware.LoginGuard
	HTTPMetrics *middleware.HTTPMetrics
	Tracer      trace.Tracer
	// Gatherer backs /metrics; the default registry is used when nil.
	Gatherer prometheus.Gatherer
	Database DatabaseChecker
	Cache    CacheChecker
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
func Register(deps Dependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	var trustedProxies []string
	if deps.Config != nil && len(deps.Config.App.TrustedProxies) > 0 {
		trustedProxies = deps.Config.App.TrustedProxies
	}
	// With no trusted proxies ClientIP is the connection peer and
	// X-Forwarded-For is ignored, so the address tier cannot be spoofed.
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		log.Error("invalid trusted proxies, ignoring forwarding headers", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(deps.Tracer))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(deps.HTTPMetrics.Handler())
	if deps.Config != nil && len(deps.Config.App.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler()
	if deps.Database != nil {
		healthHandler.WithReadinessCheck("postgres", deps.Database.Ping)
	}
	if deps.Cache != nil {
		healthHandler.WithReadinessCheck("redis", deps.Cache.HealthCheck)
	}

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Auth == nil {
		return r
	}

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authHandler := handlers.NewAuthHandler(deps.Auth)
		authHandler.RegisterRoutes(authGroup, buildAuthMiddlewares(deps, log))
	}

	return r
}

func buildAuthMiddlewares(deps Dependencies, log *zap.Logger) handlers.AuthRouteMiddlewares {
	mw := handlers.AuthRouteMiddlewares{
		Protected: []gin.HandlerFunc{middleware.RequireAuth(deps.Auth, log)},
		Optional:  []gin.HandlerFunc{middleware.OptionalAuth(deps.Auth, log)},
	}

	if deps.Limiter != nil {
		mw.Login = []gin.HandlerFunc{middleware.LoginRateLimit(deps.Limiter, log)}
		mw.Refresh = []gin.HandlerFunc{middleware.RefreshRateLimit(deps.Limiter, log)}
	}

	return mw
}
