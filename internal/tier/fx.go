package tier

import "go.uber.org/fx"

var Module = fx.Module("tier",
	fx.Provide(NewService),
)
