// Package scheduler runs the billing process's periodic jobs: the
// daily invoice-close pass, the daily overdue sweep and the
// month-anchored bulk generation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/metergate/internal/billingcycle"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobInvoiceClose = "invoice_close"
	jobOverdueSweep = "overdue_sweep"
	jobMonthlyBulk  = "monthly_bulk"

	jobTimeout = 5 * time.Minute
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Tunables  *config.TunablesHolder
	Customers customerdomain.Service
	Cycles    billingcycle.Service
	Invoices  invoicedomain.Service
}

type Scheduler struct {
	log       *zap.Logger
	clock     clock.Clock
	loc       *time.Location
	tunables  *config.TunablesHolder
	customers customerdomain.Service
	cycles    billingcycle.Service
	invoices  invoicedomain.Service

	lastFired map[string]time.Time
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:       p.Log.Named("scheduler"),
		clock:     p.Clock,
		loc:       p.Config.Location(),
		tunables:  p.Tunables,
		customers: p.Customers,
		cycles:    p.Cycles,
		invoices:  p.Invoices,
		lastFired: make(map[string]time.Time),
	}
}

// RunForever ticks until ctx is cancelled, firing each job when its
// scheduled local time passes.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.tunables.Current().SchedulerTick)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fires every job whose most recent scheduled time has passed
// since the previous firing.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)
	knobs := s.tunables.Current()
	var err error

	jobs := []struct {
		name string
		due  time.Time
		run  func(context.Context) error
	}{
		{jobInvoiceClose, lastDailyFire(now, knobs.InvoiceCloseHour), s.InvoiceCloseJob},
		{jobOverdueSweep, lastDailyFire(now, knobs.OverdueSweepHour), s.OverdueSweepJob},
		{jobMonthlyBulk, lastMonthlyFire(now), s.MonthlyBulkJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.name, knobs.EnabledJobs) {
			continue
		}
		if job.due.IsZero() || !s.lastFired[job.name].Before(job.due) {
			continue
		}
		s.lastFired[job.name] = now
		err = errors.Join(err, s.runJob(ctx, job.name, job.run))
	}
	return err
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	started := s.clock.Now()
	metrics.SchedulerRuns.WithLabelValues(name).Inc()
	s.log.Info("job starting", zap.String("job", name))

	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerErrors.WithLabelValues(name).Inc()
			s.log.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()

	err = fn(ctx)
	if err != nil {
		metrics.SchedulerErrors.WithLabelValues(name).Inc()
		s.log.Warn("job failed", zap.String("job", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}

	s.log.Info("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// InvoiceCloseJob generates an invoice for every active customer whose
// current period reports zero days remaining (DaysRemaining < 1); a
// period that already has an invoice is skipped.
func (s *Scheduler) InvoiceCloseJob(ctx context.Context) error {
	customers, err := s.customers.ListActive(ctx, nil)
	if err != nil {
		return err
	}

	var errs error
	for _, customer := range customers {
		period, err := s.cycles.CurrentPeriod(ctx, customer.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if period.DaysRemaining >= 1 {
			continue
		}
		_, err = s.invoices.Generate(ctx, customer.ID, period.Start, period.End)
		if err != nil && !errors.Is(err, invoicedomain.ErrDuplicatePeriod) {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// OverdueSweepJob transitions PENDING invoices past due date.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	_, err := s.invoices.MarkOverdueInvoices(ctx)
	return err
}

// MonthlyBulkJob is the month-anchored generation pass over all active
// customers.
func (s *Scheduler) MonthlyBulkJob(ctx context.Context) error {
	result, err := s.invoices.GenerateMonthly(ctx, nil)
	if err != nil {
		return err
	}
	s.log.Info("monthly generation finished",
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	return nil
}

func (s *Scheduler) isJobEnabled(name string, enabled []string) bool {
	// An empty list enables every job.
	if len(enabled) == 0 {
		return true
	}
	for _, job := range enabled {
		if strings.EqualFold(job, name) {
			return true
		}
	}
	return false
}

// lastDailyFire is the most recent hour:00 at or before now.
func lastDailyFire(now time.Time, hour int) time.Time {
	fire := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if fire.After(now) {
		fire = fire.AddDate(0, 0, -1)
	}
	return fire
}

// lastMonthlyFire is the most recent 1st-of-month 00:00 at or before
// now.
func lastMonthlyFire(now time.Time) time.Time {
	fire := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if fire.After(now) {
		fire = fire.AddDate(0, -1, 0)
	}
	return fire
}
