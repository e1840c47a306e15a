// Package tier holds the plan catalog: price, daily quota and feature
// flags for each subscription level.
package tier

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Tier is a catalog entry. DailyQuota 0 means unlimited.
type Tier struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name              string            `gorm:"type:text;not null;uniqueIndex:ux_tiers_name" json:"name"`
	MonthlyPriceCents int64             `gorm:"column:monthly_price_cents;not null;default:0" json:"monthly_price_cents"`
	DailyQuota        int64             `gorm:"column:daily_quota;not null;default:0" json:"daily_quota"`
	Features          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"features,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Tier) TableName() string { return "tiers" }
