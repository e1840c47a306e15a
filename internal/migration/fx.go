package migration

import (
	"github.com/smallbiznis/metergate/internal/apikey"
	"github.com/smallbiznis/metergate/internal/config"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	"github.com/smallbiznis/metergate/internal/developer"
	invoicedomain "github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/seed"
	"github.com/smallbiznis/metergate/internal/tier"
	"github.com/smallbiznis/metergate/internal/usage"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// mysql and sqlite deployments auto-migrate from the models.
			if err := conn.AutoMigrate(
				&tier.Tier{},
				&developer.Developer{},
				&customerdomain.Customer{},
				&apikey.APIKey{},
				&usage.Record{},
				&invoicedomain.Invoice{},
				&invoicedomain.LineItem{},
			); err != nil {
				return err
			}
		}

		if cfg.SeedCatalog {
			return seed.EnsureDefaultCatalog(conn)
		}
		return nil
	}),
)
