// Package apikey manages the opaque credentials customers present on
// the proxy path.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

const secretPrefix = "mg_"

// APIKey is a customer credential. Usable iff active, unexpired and the
// owning customer is active.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Secret     string       `gorm:"type:text;not null;uniqueIndex:ux_api_keys_secret" json:"-"`
	Name       string       `gorm:"type:text" json:"name,omitempty"`
	CustomerID snowflake.ID `gorm:"column:customer_id;not null;index" json:"customer_id"`
	Active     bool         `gorm:"column:is_active;not null" json:"is_active"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// NewSecret generates an opaque key secret.
func NewSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(raw), nil
}

// Usable reports whether the key itself admits requests at now. The
// owning customer's active flag is checked separately.
func (k APIKey) Usable(now time.Time) bool {
	if !k.Active {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}
