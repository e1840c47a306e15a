package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/billingcycle"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	"github.com/smallbiznis/metergate/internal/customer"
	"github.com/smallbiznis/metergate/internal/developer"
	"github.com/smallbiznis/metergate/internal/invoice"
	"github.com/smallbiznis/metergate/internal/logger"
	"github.com/smallbiznis/metergate/internal/migration"
	"github.com/smallbiznis/metergate/internal/pricing"
	"github.com/smallbiznis/metergate/internal/scheduler"
	"github.com/smallbiznis/metergate/internal/server"
	"github.com/smallbiznis/metergate/internal/tier"
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

		tier.Module,
		developer.Module,
		customer.Module,
		usage.Module,
		billingcycle.Module,
		invoice.Module,
		pricing.Module,
		scheduler.Module,

		server.BillingModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
