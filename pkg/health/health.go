package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
	Check(ctx context.Context) Health
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

func (h *health) Readiness(c *gin.Context) {
	res := h.Check(c.Request.Context())
	code := http.StatusOK
	if res.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, res)
}

// Check pings every configured dependency concurrently.
func (h *health) Check(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		deps []Dependency
	)
	record := func(name string, err error) {
		dep := Dependency{Name: name, Status: statusHealthy, Message: "OK"}
		if err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
		}
		mu.Lock()
		deps = append(deps, dep)
		mu.Unlock()
	}

	var g errgroup.Group
	if h.db != nil {
		g.Go(func() error {
			sqlDB, err := h.db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			record(h.db.Name(), err)
			return nil
		})
	}
	if h.redis != nil {
		g.Go(func() error {
			record("redis", h.redis.Ping(ctx).Err())
			return nil
		})
	}
	_ = g.Wait()

	res := Health{Status: statusHealthy, Message: "OK", Deps: deps}
	for _, d := range deps {
		if d.Status != statusHealthy {
			res.Status = statusUnhealthy
			res.Message = d.Name + " unavailable"
			break
		}
	}
	return res
}
