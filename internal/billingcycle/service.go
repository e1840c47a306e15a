// Package billingcycle computes the anniversary-anchored monthly
// window that covers now for a customer.
package billingcycle

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxPeriodIterations bounds the month-advance loop; exceeding it
// means the anchor data is corrupt.
const maxPeriodIterations = 120

var ErrPeriodOverflow = errors.New("billing_period_iteration_overflow")

// Period is the billing window covering now.
type Period struct {
	Start         time.Time `json:"period_start"`
	End           time.Time `json:"period_end"`
	DaysRemaining int       `json:"days_remaining"`
	CycleDay      int       `json:"cycle_day"`
}

// DaysInPeriod is the full window length in days, rounded up.
func (p Period) DaysInPeriod() int {
	return int((p.End.Sub(p.Start) + 24*time.Hour - 1) / (24 * time.Hour))
}

type Service interface {
	CurrentPeriod(ctx context.Context, customerID snowflake.ID) (*Period, error)
}

type service struct {
	db        *gorm.DB
	customers customerdomain.Service
	clock     clock.Clock
	loc       *time.Location
	log       *zap.Logger
}

func NewService(db *gorm.DB, customers customerdomain.Service, clk clock.Clock, cfg config.Config, log *zap.Logger) Service {
	return &service{
		db:        db,
		customers: customers,
		clock:     clk,
		loc:       cfg.Location(),
		log:       log.Named("billingcycle"),
	}
}

type lastInvoiceRow struct {
	ID        snowflake.ID `gorm:"column:id"`
	PeriodEnd time.Time    `gorm:"column:period_end"`
}

func (s *service) CurrentPeriod(ctx context.Context, customerID snowflake.ID) (*Period, error) {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().In(s.loc)

	var last lastInvoiceRow
	err = s.db.WithContext(ctx).Raw(
		`SELECT id, period_end
		 FROM invoices
		 WHERE customer_id = ?
		 ORDER BY period_end DESC
		 LIMIT 1`,
		customerID,
	).Scan(&last).Error
	if err != nil {
		return nil, err
	}

	anchor := customer.CreatedAt.In(s.loc)
	cycleDay := anchor.Day()

	if last.ID != 0 {
		if last.PeriodEnd.After(now) {
			// Seed or test invoices dated in the future are not
			// authoritative; fall back to the creation anchor.
			s.log.Warn("newest invoice period_end is in the future, anchoring on customer creation",
				zap.String("customer_id", customerID.String()),
				zap.Time("period_end", last.PeriodEnd),
			)
		} else {
			anchor = last.PeriodEnd.In(s.loc).AddDate(0, 0, 1)
			cycleDay = last.PeriodEnd.Day()
		}
	}

	start, end, err := advanceToNow(anchor, now)
	if err != nil {
		return nil, err
	}

	return &Period{
		Start:         start,
		End:           end,
		DaysRemaining: daysRemaining(now, end),
		CycleDay:      cycleDay,
	}, nil
}

// advanceToNow walks month-length windows forward from anchor until
// the one containing now.
func advanceToNow(anchor, now time.Time) (time.Time, time.Time, error) {
	start := anchor
	for i := 0; i < maxPeriodIterations; i++ {
		end := addMonthClamped(start)
		if !start.After(now) && now.Before(end) {
			return start, end, nil
		}
		if start.After(now) {
			// Anchor in the future: the first window is authoritative.
			return start, end, nil
		}
		start = end
	}
	return time.Time{}, time.Time{}, ErrPeriodOverflow
}

// addMonthClamped adds one calendar month, clamping to the last day of
// a shorter target month (Jan 31 -> Feb 28/29).
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	firstOfNext := time.Date(year, month+1, 1, hour, minute, sec, t.Nanosecond(), t.Location())
	lastDay := daysInMonth(firstOfNext.Year(), firstOfNext.Month())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func daysRemaining(now, end time.Time) int {
	if !end.After(now) {
		return 0
	}
	return int((end.Sub(now) + 24*time.Hour - 1) / (24 * time.Hour))
}
