package manualorder

import (
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db"
	"coin-settlement/services/ledger"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("manualorder.service",
	fx.Provide(
		NewService,
		func(l *ledger.Service) Ledger { return l },
	),
	fx.Invoke(migrate, RegisterRoutes),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, &ManualOrder{})
}
