// Package usage captures per-request records in the fast store and
// drains them to the durable store in batches.
package usage

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Record is one proxied call. Append-only; never updated after the
// drain inserts it.
type Record struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	CustomerID     snowflake.ID  `gorm:"column:customer_id;not null;index:ix_usage_customer_occurred,priority:1" json:"customer_id"`
	APIKeyID       *snowflake.ID `gorm:"column:api_key_id" json:"api_key_id,omitempty"`
	Endpoint       string        `gorm:"type:text;not null" json:"endpoint"`
	Method         string        `gorm:"type:text;not null" json:"method"`
	StatusCode     int           `gorm:"column:status_code;not null" json:"status_code"`
	ResponseTimeMs int64         `gorm:"column:response_time_ms;not null" json:"response_time_ms"`
	OccurredAt     time.Time     `gorm:"column:occurred_at;not null;index:ix_usage_customer_occurred,priority:2;index:ix_usage_occurred" json:"timestamp"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "usage_records" }
