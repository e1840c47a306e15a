package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/developer"
	"github.com/smallbiznis/metergate/internal/tier"
)

// Customer is an API consumer. CreatedAt anchors its billing cycle and
// never changes after insert.
type Customer struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Email       string       `gorm:"type:text;not null;uniqueIndex:ux_customers_email" json:"email"`
	TierID      snowflake.ID `gorm:"column:tier_id;not null;index" json:"tier_id"`
	DeveloperID snowflake.ID `gorm:"column:developer_id;not null;index" json:"developer_id"`
	Active      bool         `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;<-:create" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Tier      *tier.Tier           `gorm:"foreignKey:TierID" json:"tier,omitempty"`
	Developer *developer.Developer `gorm:"foreignKey:DeveloperID" json:"developer,omitempty"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }
