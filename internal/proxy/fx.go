package proxy

import "go.uber.org/fx"

var Module = fx.Module("proxy",
	fx.Provide(NewForwarder),
)
