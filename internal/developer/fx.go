package developer

import "go.uber.org/fx"

var Module = fx.Module("developer",
	fx.Provide(NewService),
)
