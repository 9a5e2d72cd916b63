package httpapi

import (
	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/health"
	"coin-settlement/pkg/middleware"
	"coin-settlement/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewEngine,
		NewRateLimiter,
		NewGate,
	),
	fx.Invoke(registerHealthEndpoint),
)

func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.Logger(),
		middleware.Error(),
	)
	return r
}

func NewRateLimiter(cfg *config.Config) *middleware.IPRateLimiter {
	return middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
}

type gateParams struct {
	fx.In
	Authorizer   accesscontrol.Authorizer
	Capabilities *security.Capabilities
}

func NewGate(p gateParams) middleware.Gate {
	return middleware.Gate{Authorizer: p.Authorizer, Capabilities: p.Capabilities}
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
