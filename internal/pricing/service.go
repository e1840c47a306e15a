// Package pricing derives usage summaries and tier-change economics.
package pricing

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/billingcycle"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	"github.com/smallbiznis/metergate/internal/tier"
	"github.com/smallbiznis/metergate/internal/usage"
)

type UsageForPeriod struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Usage      int64        `json:"usage"`
	Period     Period       `json:"period"`
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type TierPricing struct {
	ID                snowflake.ID   `json:"id"`
	Name              string         `json:"name"`
	MonthlyPriceCents int64          `json:"monthly_price_cents"`
	DailyQuota        int64          `json:"daily_quota"`
	Features          map[string]any `json:"features,omitempty"`
}

type CostEstimate struct {
	CurrentTier         TierPricing  `json:"current_tier"`
	TargetTier          *TierPricing `json:"target_tier,omitempty"`
	SavingsCents        int64        `json:"savings_cents"`
	AdditionalCostCents int64        `json:"additional_cost_cents"`
}

type UpgradePreview struct {
	CurrentTier         TierPricing         `json:"current_tier"`
	NewTier             TierPricing         `json:"new_tier"`
	Period              billingcycle.Period `json:"period"`
	ProratedAmountCents int64               `json:"prorated_amount_cents"`
	IsUpgrade           bool                `json:"is_upgrade"`
	FeaturesGained      []string            `json:"features_gained"`
	FeaturesLost        []string            `json:"features_lost"`
}

type Service interface {
	CalculateUsageForPeriod(ctx context.Context, customerID snowflake.ID, start, end time.Time) (*UsageForPeriod, error)
	GetTierPricing(ctx context.Context, tierID snowflake.ID) (*TierPricing, error)
	EstimateMonthlyCost(ctx context.Context, customerID snowflake.ID, targetTierID *snowflake.ID) (*CostEstimate, error)
	PreviewTierUpgrade(ctx context.Context, customerID snowflake.ID, newTierID snowflake.ID) (*UpgradePreview, error)
}

type service struct {
	customers customerdomain.Service
	tiers     tier.Service
	analytics usage.Analytics
	cycles    billingcycle.Service
}

func NewService(customers customerdomain.Service, tiers tier.Service, analytics usage.Analytics, cycles billingcycle.Service) Service {
	return &service{
		customers: customers,
		tiers:     tiers,
		analytics: analytics,
		cycles:    cycles,
	}
}

func (s *service) CalculateUsageForPeriod(ctx context.Context, customerID snowflake.ID, start, end time.Time) (*UsageForPeriod, error) {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	count, err := s.analytics.CountForPeriod(ctx, customerID, start, end)
	if err != nil {
		return nil, err
	}
	return &UsageForPeriod{
		CustomerID: customerID,
		Usage:      count,
		Period:     Period{Start: start, End: end},
	}, nil
}

func (s *service) GetTierPricing(ctx context.Context, tierID snowflake.ID) (*TierPricing, error) {
	t, err := s.tiers.GetByID(ctx, tierID)
	if err != nil {
		return nil, err
	}
	pricing := toPricing(t)
	return &pricing, nil
}

func (s *service) EstimateMonthlyCost(ctx context.Context, customerID snowflake.ID, targetTierID *snowflake.ID) (*CostEstimate, error) {
	customer, err := s.customers.GetWithTier(ctx, customerID)
	if err != nil {
		return nil, err
	}

	current := toPricing(customer.Tier)
	estimate := &CostEstimate{CurrentTier: current}

	if targetTierID == nil || *targetTierID == customer.TierID {
		return estimate, nil
	}

	target, err := s.tiers.GetByID(ctx, *targetTierID)
	if err != nil {
		return nil, err
	}
	targetPricing := toPricing(target)
	estimate.TargetTier = &targetPricing
	estimate.SavingsCents = maxInt64(0, current.MonthlyPriceCents-target.MonthlyPriceCents)
	estimate.AdditionalCostCents = maxInt64(0, target.MonthlyPriceCents-current.MonthlyPriceCents)
	return estimate, nil
}

func (s *service) PreviewTierUpgrade(ctx context.Context, customerID snowflake.ID, newTierID snowflake.ID) (*UpgradePreview, error) {
	customer, err := s.customers.GetWithTier(ctx, customerID)
	if err != nil {
		return nil, err
	}
	newTier, err := s.tiers.GetByID(ctx, newTierID)
	if err != nil {
		return nil, err
	}
	period, err := s.cycles.CurrentPeriod(ctx, customerID)
	if err != nil {
		return nil, err
	}

	diff := newTier.MonthlyPriceCents - customer.Tier.MonthlyPriceCents
	days := period.DaysInPeriod()
	prorated := int64(0)
	if days > 0 {
		prorated = int64(math.Round(float64(diff) * float64(period.DaysRemaining) / float64(days)))
	}

	gained, lost := featureDiff(newTier.Features, customer.Tier.Features)

	return &UpgradePreview{
		CurrentTier:         toPricing(customer.Tier),
		NewTier:             toPricing(newTier),
		Period:              *period,
		ProratedAmountCents: prorated,
		IsUpgrade:           prorated > 0,
		FeaturesGained:      gained,
		FeaturesLost:        lost,
	}, nil
}

func toPricing(t *tier.Tier) TierPricing {
	return TierPricing{
		ID:                t.ID,
		Name:              t.Name,
		MonthlyPriceCents: t.MonthlyPriceCents,
		DailyQuota:        t.DailyQuota,
		Features:          t.Features,
	}
}

// featureDiff is a set difference over feature-map keys.
func featureDiff(next, current map[string]any) (gained, lost []string) {
	for key := range next {
		if _, ok := current[key]; !ok {
			gained = append(gained, key)
		}
	}
	for key := range current {
		if _, ok := next[key]; !ok {
			lost = append(lost, key)
		}
	}
	return gained, lost
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
