package capture

import (
	"coin-settlement/services/ledger"

	"go.uber.org/fx"
)

var Module = fx.Module("capture.service",
	fx.Provide(
		NewService,
		func(l *ledger.Service) Ledger { return l },
	),
	fx.Invoke(RegisterRoutes),
)
