package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/metergate/internal/billingcycle"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	customerservice "github.com/smallbiznis/metergate/internal/customer/service"
	"github.com/smallbiznis/metergate/internal/developer"
	invoicedomain "github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/tier"
	"github.com/smallbiznis/metergate/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type pricingFixture struct {
	svc     Service
	db      *gorm.DB
	node    *snowflake.Node
	basic   tier.Tier
	premium tier.Tier
	cust    customerdomain.Customer
}

func newPricingFixture(t *testing.T, now time.Time) *pricingFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tier.Tier{},
		&developer.Developer{},
		&customerdomain.Customer{},
		&usage.Record{},
		&invoicedomain.Invoice{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(now)
	cfg := config.Config{BillingTimezone: "UTC"}

	basic := tier.Tier{
		ID: node.Generate(), Name: "Basic", MonthlyPriceCents: 1000, DailyQuota: 100,
		Features: datatypes.JSONMap{"support": "community"},
	}
	premium := tier.Tier{
		ID: node.Generate(), Name: "Premium", MonthlyPriceCents: 4000, DailyQuota: 1000,
		Features: datatypes.JSONMap{"support": "email", "analytics": true},
	}
	require.NoError(t, db.Create(&basic).Error)
	require.NoError(t, db.Create(&premium).Error)

	dev := developer.Developer{ID: node.Generate(), Name: "acme"}
	require.NoError(t, db.Create(&dev).Error)
	cust := customerdomain.Customer{
		ID:          node.Generate(),
		Email:       "dev@example.com",
		TierID:      basic.ID,
		DeveloperID: dev.ID,
		Active:      true,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&cust).Error)

	customers := customerservice.New(db, log)
	tiers := tier.NewService(db, log)
	analytics := usage.NewAnalytics(db, clk, log)
	cycles := billingcycle.NewService(db, customers, clk, cfg, log)

	return &pricingFixture{
		svc:     NewService(customers, tiers, analytics, cycles),
		db:      db,
		node:    node,
		basic:   basic,
		premium: premium,
		cust:    cust,
	}
}

func TestCalculateUsageForPeriod(t *testing.T) {
	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	f := newPricingFixture(t, now)

	inWindow := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		record := usage.Record{
			ID: f.node.Generate(), CustomerID: f.cust.ID,
			Endpoint: "/x", Method: "GET", StatusCode: 200,
			OccurredAt: inWindow.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, f.db.Create(&record).Error)
	}
	// Outside the half-open window.
	outside := usage.Record{
		ID: f.node.Generate(), CustomerID: f.cust.ID,
		Endpoint: "/x", Method: "GET", StatusCode: 200,
		OccurredAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.db.Create(&outside).Error)

	result, err := f.svc.CalculateUsageForPeriod(context.Background(), f.cust.ID,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Usage)
}

func TestEstimateMonthlyCostCurrentOnly(t *testing.T) {
	f := newPricingFixture(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	estimate, err := f.svc.EstimateMonthlyCost(context.Background(), f.cust.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Basic", estimate.CurrentTier.Name)
	assert.Nil(t, estimate.TargetTier)
	assert.Zero(t, estimate.SavingsCents)
	assert.Zero(t, estimate.AdditionalCostCents)
}

func TestEstimateMonthlyCostUpgrade(t *testing.T) {
	f := newPricingFixture(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	estimate, err := f.svc.EstimateMonthlyCost(context.Background(), f.cust.ID, &f.premium.ID)
	require.NoError(t, err)
	require.NotNil(t, estimate.TargetTier)
	assert.Equal(t, int64(3000), estimate.AdditionalCostCents)
	assert.Zero(t, estimate.SavingsCents)
}

func TestPreviewTierUpgradeProration(t *testing.T) {
	// Period Jan 1 - Feb 1 (31 days); Jan 21 leaves 11 days.
	now := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	f := newPricingFixture(t, now)

	preview, err := f.svc.PreviewTierUpgrade(context.Background(), f.cust.ID, f.premium.ID)
	require.NoError(t, err)

	// (4000 - 1000) * 11 / 31 = 1064.5... -> 1065
	assert.Equal(t, int64(1065), preview.ProratedAmountCents)
	assert.True(t, preview.IsUpgrade)
	assert.ElementsMatch(t, []string{"analytics"}, preview.FeaturesGained)
	assert.Empty(t, preview.FeaturesLost)
}

func TestPreviewDowngradeIsNotUpgrade(t *testing.T) {
	now := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	f := newPricingFixture(t, now)

	// Move the customer onto Premium, then preview Basic.
	require.NoError(t, f.db.Model(&customerdomain.Customer{}).
		Where("id = ?", f.cust.ID).
		Update("tier_id", f.premium.ID).Error)

	preview, err := f.svc.PreviewTierUpgrade(context.Background(), f.cust.ID, f.basic.ID)
	require.NoError(t, err)
	assert.False(t, preview.IsUpgrade)
	assert.Negative(t, preview.ProratedAmountCents)
	assert.Empty(t, preview.FeaturesGained)
	assert.ElementsMatch(t, []string{"analytics"}, preview.FeaturesLost)
}

func TestGetTierPricingNotFound(t *testing.T) {
	f := newPricingFixture(t, time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC))
	_, err := f.svc.GetTierPricing(context.Background(), snowflake.ID(999999))
	assert.ErrorIs(t, err, tier.ErrNotFound)
}
