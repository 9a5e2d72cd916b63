package profiling

import (
	"context"
	"runtime"
	"strconv"

	"coin-settlement/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(Start))

// Start attaches the continuous profiler when PYROSCOPE.ADDR is set.
func Start(lc fx.Lifecycle, c *config.Config) {
	if c.Pyroscope.Addr == "" {
		return
	}

	cfg := pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    profileTypes(c.AppEnv),
		Tags: map[string]string{
			"env":     c.AppEnv,
			"version": c.AppVersion,
			"node_id": strconv.FormatInt(c.NodeID, 10),
		},
	}

	var profiler *pyroscope.Profiler
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p, err := pyroscope.Start(cfg)
			if err != nil {
				zap.L().Error("pyroscope disabled", zap.String("addr", cfg.ServerAddress), zap.Error(err))
				return nil
			}
			profiler = p
			zap.L().Info("pyroscope started", zap.String("addr", cfg.ServerAddress), zap.Int("profiles", len(cfg.ProfileTypes)))
			return nil
		},
		OnStop: func(context.Context) error {
			if profiler == nil {
				return nil
			}
			return profiler.Stop()
		},
	})
}

func profileTypes(env string) []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	// lock contention matters for the ledger's row locks, too noisy locally
	if env != "development" {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(5)
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration, pyroscope.ProfileBlockCount)
	}
	return types
}
