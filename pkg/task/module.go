package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/metrics"
	"coin-settlement/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(newClient, NewEnqueuer),
)

var Server = fx.Module("asynq:server",
	fx.Provide(asynq.NewServeMux),
	fx.Invoke(runServer),
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func newClient(lc fx.Lifecycle, cfg *config.Config) *asynq.Client {
	client := asynq.NewClient(redisOpt(cfg))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := client.Ping(); err != nil {
				return fmt.Errorf("asynq broker %s: %w", cfg.Redis.Addr, err)
			}
			zap.L().Info("asynq client connected", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}

// Payout runs go to the critical queue and must never starve behind webhook
// retries, so queues are served in strict priority order.
func serverConfig(cfg *config.Config) asynq.Config {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.Config{
		Concurrency:    concurrency,
		StrictPriority: true,
		Queues: map[string]int{
			taskname.QueueCritical: 6,
			taskname.QueueDefault:  3,
			taskname.QueueLow:      1,
		},
		ShutdownTimeout: 30 * time.Second,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		IsFailure: func(err error) bool {
			return !errors.Is(err, asynq.SkipRetry)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			metrics.TaskFailures.WithLabelValues(t.Type()).Inc()
			zap.L().Error("task failed",
				zap.String("task_type", t.Type()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	}
}

func runServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(redisOpt(cfg), serverConfig(cfg))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// Start returns once the processors are running.
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("start asynq server: %w", err)
			}
			zap.L().Info("asynq server started", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
