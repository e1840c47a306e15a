// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces PENDING→PAID/OVERDUE/CANCELLED and
// OVERDUE→PAID. PAID is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPaid || next == StatusOverdue || next == StatusCancelled
	case StatusOverdue:
		return next == StatusPaid
	}
	return false
}

// Invoice is an immutable billing document for one customer period.
type Invoice struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceNumber      string       `gorm:"column:invoice_number;type:text;not null;uniqueIndex:ux_invoices_number" json:"invoice_number"`
	CustomerID         snowflake.ID `gorm:"column:customer_id;not null;index;uniqueIndex:ux_invoices_customer_period,priority:1" json:"customer_id"`
	PeriodStart        time.Time    `gorm:"column:period_start;not null;uniqueIndex:ux_invoices_customer_period,priority:2" json:"period_start"`
	PeriodEnd          time.Time    `gorm:"column:period_end;not null;uniqueIndex:ux_invoices_customer_period,priority:3" json:"period_end"`
	TotalUsage         int64        `gorm:"column:total_usage;not null;default:0" json:"total_usage"`
	AmountCents        int64        `gorm:"column:amount_cents;not null;default:0" json:"amount_cents"`
	Status             Status       `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	DueDate            time.Time    `gorm:"column:due_date;not null" json:"due_date"`
	PaidAt             *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	ExternalPaymentRef *string      `gorm:"column:external_payment_ref;type:text" json:"external_payment_ref,omitempty"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID" json:"line_items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// LineItem is a line on an invoice. Informational lines carry a zero
// unit price.
type LineItem struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID      snowflake.ID `gorm:"column:invoice_id;not null;index" json:"invoice_id"`
	Description    string       `gorm:"type:text;not null" json:"description"`
	Quantity       int64        `gorm:"not null" json:"quantity"`
	UnitPriceCents int64        `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	AmountCents    int64        `gorm:"column:amount_cents;not null" json:"amount_cents"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }
