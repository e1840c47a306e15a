package billingcycle

import "go.uber.org/fx"

var Module = fx.Module("billingcycle",
	fx.Provide(NewService),
)
