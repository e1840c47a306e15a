package usage

import (
	"context"

	"go.uber.org/fx"
)

// Module wires the buffer and the analytics reader. The drain worker
// is registered separately by gateway processes via RunDrainer.
var Module = fx.Module("usage",
	fx.Provide(NewBuffer),
	fx.Provide(NewAnalytics),
	fx.Provide(NewDrainer),
)

// RunDrainer starts the 30s drain loop for the process lifetime.
func RunDrainer(lc fx.Lifecycle, drainer *Drainer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			runCtx, cancel := context.WithCancel(context.Background())
			go drainer.Run(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
