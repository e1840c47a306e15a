package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound          = errors.New("invoice_not_found")
	ErrDuplicatePeriod   = errors.New("invoice_duplicate_period")
	ErrInvalidPeriod     = errors.New("invoice_invalid_period")
	ErrInvalidStatus     = errors.New("invoice_invalid_status")
	ErrInvalidTransition = errors.New("invoice_invalid_transition")
)

type ListFilter struct {
	CustomerID *snowflake.ID
	Status     *Status
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

// Summary aggregates invoices by status.
type Summary struct {
	Count       int64            `json:"count"`
	AmountCents int64            `json:"amount_cents"`
	ByStatus    map[Status]int64 `json:"by_status"`
}

// BulkError captures one failed customer in a bulk run.
type BulkError struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Error      string       `json:"error"`
}

// BulkResult aggregates a monthly generation pass.
type BulkResult struct {
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Errors     []BulkError `json:"errors"`
	Invoices   []Invoice   `json:"invoices"`
}

type Service interface {
	Generate(ctx context.Context, customerID snowflake.ID, periodStart, periodEnd time.Time) (*Invoice, error)
	GenerateMonthly(ctx context.Context, customerIDs []snowflake.ID) (*BulkResult, error)

	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, error)
	Summarize(ctx context.Context, customerID *snowflake.ID) (*Summary, error)

	UpdateStatus(ctx context.Context, id snowflake.ID, status Status, paidAt *time.Time, externalRef *string) (*Invoice, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (*Invoice, error)
	MarkOverdueInvoices(ctx context.Context) (int64, error)
}
