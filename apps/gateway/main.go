package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/apikey"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	"github.com/smallbiznis/metergate/internal/keyresolver"
	"github.com/smallbiznis/metergate/internal/logger"
	"github.com/smallbiznis/metergate/internal/migration"
	"github.com/smallbiznis/metergate/internal/proxy"
	"github.com/smallbiznis/metergate/internal/ratelimit"
	"github.com/smallbiznis/metergate/internal/server"
	"github.com/smallbiznis/metergate/internal/usage"
	"github.com/smallbiznis/metergate/pkg/db"
	"github.com/smallbiznis/metergate/pkg/redisconn"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redisconn.Module,
		clock.Module,
		migration.Module,

		apikey.Module,
		keyresolver.Module,
		ratelimit.Module,
		proxy.Module,
		usage.Module,
		fx.Invoke(usage.RunDrainer),

		server.GatewayModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
