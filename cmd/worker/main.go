package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db"
	"coin-settlement/pkg/featureflags"
	"coin-settlement/pkg/hashistack/secretmanager"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/minio"
	"coin-settlement/pkg/otelcol"
	"coin-settlement/pkg/paypal"
	"coin-settlement/pkg/profiling"
	"coin-settlement/pkg/task"
	"coin-settlement/services/ledger"
	"coin-settlement/services/payout"
	"coin-settlement/services/webhook"
)

// worker consumes the asynq queues: webhook retries, payout runs and the
// reconcile sweep. It also owns the payout schedule.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		task.Client,
		task.Server,
		featureflags.Module,
		minio.Client,
		paypal.Module,
		fx.Provide(provideSnowflakeNode),
		ledger.Module,
		webhook.Module,
		webhook.Tasks,
		payout.Module,
		payout.Scheduling,
		fxLogger,
	}

	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
