package billingcycle

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/metergate/internal/apikey"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	customerservice "github.com/smallbiznis/metergate/internal/customer/service"
	"github.com/smallbiznis/metergate/internal/developer"
	invoicedomain "github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tier.Tier{},
		&developer.Developer{},
		&customerdomain.Customer{},
		&apikey.APIKey{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
	))
	return db
}

func seedCustomer(t *testing.T, db *gorm.DB, node *snowflake.Node, createdAt time.Time) customerdomain.Customer {
	t.Helper()
	ti := tier.Tier{ID: node.Generate(), Name: "Pro-" + node.Generate().String(), MonthlyPriceCents: 4900, DailyQuota: 100}
	require.NoError(t, db.Create(&ti).Error)
	dev := developer.Developer{ID: node.Generate(), Name: "acme", UpstreamBaseURL: "https://api.acme.test"}
	require.NoError(t, db.Create(&dev).Error)

	customer := customerdomain.Customer{
		ID:          node.Generate(),
		Email:       node.Generate().String() + "@example.com",
		TierID:      ti.ID,
		DeveloperID: dev.ID,
		Active:      true,
		CreatedAt:   createdAt,
	}
	require.NoError(t, db.Create(&customer).Error)
	return customer
}

func newPeriodService(db *gorm.DB, clk clock.Clock) Service {
	log := zap.NewNop()
	customers := customerservice.New(db, log)
	return NewService(db, customers, clk, config.Config{BillingTimezone: "UTC"}, log)
}

func TestCurrentPeriodFreshCustomer(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)

	createdAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	customer := seedCustomer(t, db, node, createdAt)

	clk := clock.NewFakeClock(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	svc := newPeriodService(db, clk)

	period, err := svc.CurrentPeriod(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), period.End)
	assert.Equal(t, 5, period.DaysRemaining)
	assert.Equal(t, 15, period.CycleDay)
}

func TestCurrentPeriodAdvancesMonths(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)

	createdAt := time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC)
	customer := seedCustomer(t, db, node, createdAt)

	clk := clock.NewFakeClock(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	svc := newPeriodService(db, clk)

	period, err := svc.CurrentPeriod(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), period.End)
}

func TestCurrentPeriodAnchorsOnLastInvoice(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)

	createdAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	customer := seedCustomer(t, db, node, createdAt)

	inv := invoicedomain.Invoice{
		ID:            node.Generate(),
		InvoiceNumber: "INV-2024-02-001",
		CustomerID:    customer.ID,
		PeriodStart:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		Status:        invoicedomain.StatusPending,
		DueDate:       time.Date(2024, 2, 22, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&inv).Error)

	clk := clock.NewFakeClock(time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC))
	svc := newPeriodService(db, clk)

	period, err := svc.CurrentPeriod(context.Background(), customer.ID)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), period.End)
	assert.Equal(t, 15, period.CycleDay)
}

func TestCurrentPeriodFallsBackOnFutureInvoice(t *testing.T) {
	db := newTestDB(t)
	node, _ := snowflake.NewNode(1)

	createdAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	customer := seedCustomer(t, db, node, createdAt)

	inv := invoicedomain.Invoice{
		ID:            node.Generate(),
		InvoiceNumber: "INV-2024-09-001",
		CustomerID:    customer.ID,
		PeriodStart:   time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC),
		Status:        invoicedomain.StatusPending,
		DueDate:       time.Date(2024, 9, 22, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&inv).Error)

	clk := clock.NewFakeClock(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	svc := newPeriodService(db, clk)

	period, err := svc.CurrentPeriod(context.Background(), customer.ID)
	require.NoError(t, err)

	// The future-dated invoice is ignored; the window anchors on
	// customer creation.
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), period.End)
}

func TestAddMonthClamped(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "plain month",
			in:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "jan 31 clamps to feb 29 in leap year",
			in:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "jan 31 clamps to feb 28",
			in:   time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "dec rolls the year",
			in:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, addMonthClamped(tc.in))
		})
	}
}

func TestDaysRemainingRoundsUp(t *testing.T) {
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5, daysRemaining(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), end))
	assert.Equal(t, 1, daysRemaining(time.Date(2024, 2, 14, 12, 0, 0, 0, time.UTC), end))
	assert.Equal(t, 0, daysRemaining(end, end))
}
