// Package developer holds API owners: each developer exposes an
// upstream base URL that its customers' traffic is forwarded to.
package developer

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Developer struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	UpstreamBaseURL string       `gorm:"column:upstream_base_url;type:text" json:"upstream_base_url"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Developer) TableName() string { return "developers" }
