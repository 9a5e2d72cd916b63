package webhook

import (
	"coin-settlement/pkg/config"
	"coin-settlement/pkg/db"
	"coin-settlement/pkg/taskname"
	"coin-settlement/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("webhook.service",
	fx.Provide(
		NewService,
		func(l *ledger.Service) Ledger { return l },
	),
	fx.Invoke(migrate),
)

var Handlers = fx.Module("webhook.handler",
	fx.Invoke(RegisterRoutes),
)

var Tasks = fx.Module("webhook.task",
	fx.Invoke(registerTaskHandlers),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.Migrate(cfg, gdb, &Event{})
}

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.WebhookPayPalProcess, svc.HandleProcessTask)
}
