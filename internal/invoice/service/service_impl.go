package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/billingcycle"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	"github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/usage"
	"github.com/smallbiznis/metergate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sequencerAttempts bounds number-collision retries under concurrent
// generation.
const sequencerAttempts = 3

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Tunables  *config.TunablesHolder
	Customers customerdomain.Service
	Cycles    billingcycle.Service
	Analytics usage.Analytics
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	loc       *time.Location
	tunables  *config.TunablesHolder
	customers customerdomain.Service
	cycles    billingcycle.Service
	analytics usage.Analytics
}

func New(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		loc:       p.Config.Location(),
		tunables:  p.Tunables,
		customers: p.Customers,
		cycles:    p.Cycles,
		analytics: p.Analytics,
	}
}

func (s *service) Generate(ctx context.Context, customerID snowflake.ID, periodStart, periodEnd time.Time) (*domain.Invoice, error) {
	if !periodStart.Before(periodEnd) {
		return nil, domain.ErrInvalidPeriod
	}

	var existing int64
	err := s.db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("customer_id = ? AND period_start = ? AND period_end = ?", customerID, periodStart, periodEnd).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, domain.ErrDuplicatePeriod
	}

	customer, err := s.customers.GetWithTier(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.Tier == nil {
		return nil, customerdomain.ErrNotFound
	}

	count, err := s.analytics.CountForPeriod(ctx, customerID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	dueDate := now.AddDate(0, 0, s.tunables.Current().InvoiceDueDays)
	price := customer.Tier.MonthlyPriceCents

	var created *domain.Invoice
	for attempt := 0; attempt < sequencerAttempts; attempt++ {
		number, err := s.nextInvoiceNumber(ctx, now)
		if err != nil {
			return nil, err
		}

		inv := domain.Invoice{
			ID:            s.genID.Generate(),
			InvoiceNumber: number,
			CustomerID:    customerID,
			PeriodStart:   periodStart,
			PeriodEnd:     periodEnd,
			TotalUsage:    count,
			AmountCents:   price,
			Status:        domain.StatusPending,
			DueDate:       dueDate,
			LineItems: []domain.LineItem{
				{
					ID:             s.genID.Generate(),
					Description:    fmt.Sprintf("%s Plan - %s", customer.Tier.Name, periodStart.In(s.loc).Format("January 2006")),
					Quantity:       1,
					UnitPriceCents: price,
					AmountCents:    price,
				},
				{
					ID:             s.genID.Generate(),
					Description:    fmt.Sprintf("API Calls: %d requests", count),
					Quantity:       count,
					UnitPriceCents: 0,
					AmountCents:    0,
				},
			},
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(&inv).Error
		})
		if err == nil {
			created = &inv
			break
		}
		if db.IsDuplicateKeyErr(err) {
			// Either the number or the (customer, period) unique
			// tripped; re-check the period before rescanning the max.
			var dup int64
			if cerr := s.db.WithContext(ctx).
				Model(&domain.Invoice{}).
				Where("customer_id = ? AND period_start = ? AND period_end = ?", customerID, periodStart, periodEnd).
				Count(&dup).Error; cerr == nil && dup > 0 {
				return nil, domain.ErrDuplicatePeriod
			}
			s.log.Warn("invoice number collision, retrying", zap.String("number", number))
			continue
		}
		return nil, err
	}
	if created == nil {
		return nil, errors.New("invoice_number_exhausted")
	}

	return created, nil
}

// nextInvoiceNumber allocates INV-YYYY-MM-NNN, NNN restarting at 001
// each generation month.
func (s *service) nextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%s-", now.In(s.loc).Format("2006-01"))

	var max string
	err := s.db.WithContext(ctx).Raw(
		`SELECT invoice_number
		 FROM invoices
		 WHERE invoice_number LIKE ?
		 ORDER BY invoice_number DESC
		 LIMIT 1`,
		prefix+"%",
	).Scan(&max).Error
	if err != nil {
		return "", err
	}

	next := 1
	if max != "" {
		if n, perr := strconv.Atoi(strings.TrimPrefix(max, prefix)); perr == nil {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%03d", prefix, next), nil
}

func (s *service) GenerateMonthly(ctx context.Context, customerIDs []snowflake.ID) (*domain.BulkResult, error) {
	customers, err := s.customers.ListActive(ctx, customerIDs)
	if err != nil {
		return nil, err
	}

	window := s.tunables.Current().GenerationWindowDays
	result := &domain.BulkResult{}

	for _, customer := range customers {
		period, err := s.cycles.CurrentPeriod(ctx, customer.ID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.BulkError{CustomerID: customer.ID, Error: err.Error()})
			continue
		}
		// Only invoice near period close.
		if period.DaysRemaining > window {
			continue
		}

		inv, err := s.Generate(ctx, customer.ID, period.Start, period.End)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.BulkError{CustomerID: customer.ID, Error: err.Error()})
			continue
		}
		result.Successful++
		result.Invoices = append(result.Invoices, *inv)
	}

	return result, nil
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.db.WithContext(ctx).
		Preload("LineItems").
		First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Invoice, error) {
	stmt := s.db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.StartDate != nil {
		stmt = stmt.Where("period_start >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		stmt = stmt.Where("period_end <= ?", *filter.EndDate)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var invoices []domain.Invoice
	err := stmt.
		Order("period_end desc, id desc").
		Limit(limit).
		Offset(filter.Offset).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *service) Summarize(ctx context.Context, customerID *snowflake.ID) (*domain.Summary, error) {
	type row struct {
		Status domain.Status `gorm:"column:status"`
		Count  int64         `gorm:"column:count"`
		Amount int64         `gorm:"column:amount"`
	}

	stmt := s.db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS amount")
	if customerID != nil {
		stmt = stmt.Where("customer_id = ?", *customerID)
	}

	var rows []row
	if err := stmt.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	summary := &domain.Summary{ByStatus: make(map[domain.Status]int64)}
	for _, r := range rows {
		summary.Count += r.Count
		summary.AmountCents += r.Amount
		summary.ByStatus[r.Status] = r.Count
	}
	return summary, nil
}

func (s *service) UpdateStatus(ctx context.Context, id snowflake.ID, status domain.Status, paidAt *time.Time, externalRef *string) (*domain.Invoice, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	inv, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if inv.Status != status && !inv.Status.CanTransitionTo(status) {
		return nil, domain.ErrInvalidTransition
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": s.clock.Now(),
	}
	if status == domain.StatusPaid {
		if inv.PaidAt == nil {
			at := s.clock.Now()
			if paidAt != nil {
				at = *paidAt
			}
			updates["paid_at"] = at
		}
	}
	if externalRef != nil {
		updates["external_payment_ref"] = *externalRef
	}

	if err := s.db.WithContext(ctx).Model(&domain.Invoice{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *service) MarkPaid(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	inv, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Idempotent: a second call leaves paid_at untouched.
	if inv.Status == domain.StatusPaid {
		return inv, nil
	}
	now := s.clock.Now()
	return s.UpdateStatus(ctx, id, domain.StatusPaid, &now, nil)
}

func (s *service) MarkOverdueInvoices(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	result := s.db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("status = ? AND due_date < ?", domain.StatusPending, now).
		Updates(map[string]any{
			"status":     domain.StatusOverdue,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("marked invoices overdue", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
