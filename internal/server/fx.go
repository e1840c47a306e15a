package server

import (
	"github.com/smallbiznis/metergate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// GatewayModule wires the public gateway HTTP surface.
var GatewayModule = fx.Module("server.gateway",
	fx.Provide(NewBillingClient),
	fx.Provide(NewGatewayServer),
	fx.Invoke(RunGateway),
)

// BillingModule wires the trusted billing HTTP surface.
var BillingModule = fx.Module("server.billing",
	fx.Provide(NewBillingServer),
	fx.Invoke(RunBilling),
)

func RunGateway(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *GatewayServer) {
	engine := NewEngine(log)
	s.RegisterRoutes(engine)
	runHTTP(lc, log, engine, ":"+cfg.Port)
}

func RunBilling(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *BillingServer) {
	engine := NewEngine(log)
	s.RegisterRoutes(engine)
	runHTTP(lc, log, engine, ":"+cfg.BillingPort)
}

// RunCombined mounts both surfaces for the monolith binary: gateway
// routes on the public port, internal routes on the billing port.
func RunCombined(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, gw *GatewayServer, billing *BillingServer) {
	public := NewEngine(log)
	gw.RegisterRoutes(public)
	runHTTP(lc, log, public, ":"+cfg.Port)

	internal := NewEngine(log)
	billing.RegisterRoutes(internal)
	runHTTP(lc, log, internal, ":"+cfg.BillingPort)
}

// CombinedModule wires both surfaces into one process.
var CombinedModule = fx.Module("server.combined",
	fx.Provide(NewBillingClient),
	fx.Provide(NewGatewayServer),
	fx.Provide(NewBillingServer),
	fx.Invoke(RunCombined),
)
