package keyresolver

import "go.uber.org/fx"

var Module = fx.Module("keyresolver",
	fx.Provide(New),
)
