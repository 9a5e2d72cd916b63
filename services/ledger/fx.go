package ledger

import (
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db"

	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

var Handlers = fx.Module("ledger.handler",
	fx.Invoke(RegisterRoutes),
)

var HealthServer = fx.Module("ledger.health",
	fx.Invoke(registerHealthServer),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, Models()...)
}

func registerHealthServer(server *grpc.Server, service *Service) {
	grpc_health_v1.RegisterHealthServer(server, service)
}
