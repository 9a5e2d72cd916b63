package capability

import "go.uber.org/fx"

var Module = fx.Module("capability.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)
