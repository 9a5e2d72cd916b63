package payout

import (
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db"
	"coin-settlement/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module is the dispatcher itself; only the worker needs it.
var Module = fx.Module("payout.service",
	fx.Provide(NewService),
	fx.Invoke(migrate, registerTaskHandlers),
)

var Scheduling = fx.Module("payout.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

var Handlers = fx.Module("payout.handler",
	fx.Invoke(RegisterRoutes),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, Models()...)
}

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.PayoutDispatchRun, svc.HandleDispatchTask)
	mux.HandleFunc(taskname.PayoutReconcileRun, svc.HandleReconcileTask)
}
