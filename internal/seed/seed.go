// Package seed bootstraps the default tier catalog so a fresh install
// is usable without an admin console.
package seed

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/tier"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var defaultTiers = []tier.Tier{
	{
		Name:              "Free",
		MonthlyPriceCents: 0,
		DailyQuota:        1000,
		Features:          datatypes.JSONMap{"support": "community"},
	},
	{
		Name:              "Pro",
		MonthlyPriceCents: 4900,
		DailyQuota:        100000,
		Features:          datatypes.JSONMap{"support": "email", "analytics": true},
	},
	{
		Name:              "Enterprise",
		MonthlyPriceCents: 49900,
		DailyQuota:        0, // unlimited
		Features:          datatypes.JSONMap{"support": "dedicated", "analytics": true, "sla": "99.9"},
	},
}

// EnsureDefaultCatalog inserts the default tiers, skipping names that
// already exist. Idempotent across restarts.
func EnsureDefaultCatalog(conn *gorm.DB) error {
	node, err := snowflake.NewNode(0)
	if err != nil {
		return err
	}

	for _, t := range defaultTiers {
		t.ID = node.Generate()
		err := conn.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).
			Create(&t).Error
		if err != nil {
			return err
		}
	}
	return nil
}
