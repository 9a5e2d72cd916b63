package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"coin-settlement/pkg/accesscontrol"
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db"
	"coin-settlement/pkg/featureflags"
	"coin-settlement/pkg/hashistack/secretmanager"
	"coin-settlement/pkg/health"
	"coin-settlement/pkg/httpapi"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/minio"
	"coin-settlement/pkg/otelcol"
	"coin-settlement/pkg/paypal"
	"coin-settlement/pkg/profiling"
	"coin-settlement/pkg/redis"
	"coin-settlement/pkg/security"
	"coin-settlement/pkg/server"
	"coin-settlement/pkg/task"
	"coin-settlement/services/capability"
	"coin-settlement/services/capture"
	"coin-settlement/services/ledger"
	"coin-settlement/services/manualorder"
	"coin-settlement/services/payout"
	"coin-settlement/services/webhook"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		security.Module,
		accesscontrol.Module,
		featureflags.Module,
		minio.Client,
		paypal.Module,
		health.Module,
		fx.Provide(
			provideMeterProvider,
			provideSnowflakeNode,
		),
		httpapi.Module,
		ledger.Module,
		ledger.Handlers,
		ledger.HealthServer,
		capture.Module,
		webhook.Module,
		webhook.Handlers,
		manualorder.Module,
		payout.Handlers,
		capability.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
