package usage

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/metergate/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Analytics is the read-only aggregation surface over usage_records.
type Analytics interface {
	CountForPeriod(ctx context.Context, customerID snowflake.ID, start, end time.Time) (int64, error)
	Trend(ctx context.Context, customerID snowflake.ID, granularity Granularity, buckets int) ([]TrendPoint, error)
	TopEndpoints(ctx context.Context, customerID snowflake.ID, window Window, limit int) ([]EndpointStat, error)
	ErrorRate(ctx context.Context, customerID snowflake.ID, since time.Time) (*ErrorRate, error)
	Growth(ctx context.Context, customerID snowflake.ID) (*Growth, error)
	// SystemRecent lists recent records across all customers (admin).
	SystemRecent(ctx context.Context, limit, offset int) ([]Record, error)
}

type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowAll   Window = "all"
)

type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
}

type EndpointStat struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Count    int64  `json:"count"`
}

type ErrorRate struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
	Healthy   bool    `json:"healthy"`
}

type Growth struct {
	ThisWeek      int64   `json:"this_week"`
	LastWeek      int64   `json:"last_week"`
	GrowthPercent float64 `json:"growth_percent"`
}

type analytics struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger
}

func NewAnalytics(db *gorm.DB, clk clock.Clock, log *zap.Logger) Analytics {
	return &analytics{db: db, clock: clk, log: log.Named("usage.analytics")}
}

func (a *analytics) CountForPeriod(ctx context.Context, customerID snowflake.ID, start, end time.Time) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).
		Model(&Record{}).
		Where("customer_id = ? AND occurred_at >= ? AND occurred_at < ?", customerID, start, end).
		Count(&count).Error
	return count, err
}

func (a *analytics) Trend(ctx context.Context, customerID snowflake.ID, granularity Granularity, buckets int) ([]TrendPoint, error) {
	if buckets <= 0 {
		buckets = 24
	}
	step := time.Hour
	if granularity == GranularityDay {
		step = 24 * time.Hour
	}

	now := a.clock.Now().UTC()
	since := now.Add(-time.Duration(buckets) * step)

	var rows []Record
	err := a.db.WithContext(ctx).
		Select("occurred_at").
		Where("customer_id = ? AND occurred_at >= ?", customerID, since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// Bucketing happens in process so the query stays portable across
	// dialects.
	points := make([]TrendPoint, buckets)
	for i := range points {
		points[i].Bucket = since.Add(time.Duration(i) * step)
	}
	for _, row := range rows {
		idx := int(row.OccurredAt.UTC().Sub(since) / step)
		if idx >= 0 && idx < buckets {
			points[idx].Count++
		}
	}
	return points, nil
}

func (a *analytics) TopEndpoints(ctx context.Context, customerID snowflake.ID, window Window, limit int) ([]EndpointStat, error) {
	if limit <= 0 {
		limit = 10
	}

	stmt := a.db.WithContext(ctx).
		Model(&Record{}).
		Select("endpoint, method, COUNT(*) AS count").
		Where("customer_id = ?", customerID)

	now := a.clock.Now().UTC()
	switch window {
	case WindowDay:
		stmt = stmt.Where("occurred_at >= ?", now.Add(-24*time.Hour))
	case WindowWeek:
		stmt = stmt.Where("occurred_at >= ?", now.Add(-7*24*time.Hour))
	case WindowMonth:
		stmt = stmt.Where("occurred_at >= ?", now.Add(-30*24*time.Hour))
	case WindowAll:
	}

	var stats []EndpointStat
	err := stmt.Group("endpoint, method").
		Order("count desc").
		Limit(limit).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (a *analytics) ErrorRate(ctx context.Context, customerID snowflake.ID, since time.Time) (*ErrorRate, error) {
	var total, errs int64
	base := a.db.WithContext(ctx).Model(&Record{}).
		Where("customer_id = ? AND occurred_at >= ?", customerID, since)

	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("status_code >= ?", 500).Count(&errs).Error; err != nil {
		return nil, err
	}

	rate := 0.0
	if total > 0 {
		rate = float64(errs) / float64(total)
	}
	return &ErrorRate{
		Total:     total,
		Errors:    errs,
		ErrorRate: rate,
		Healthy:   rate < 0.05,
	}, nil
}

func (a *analytics) Growth(ctx context.Context, customerID snowflake.ID) (*Growth, error) {
	now := a.clock.Now().UTC()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	twoWeeksAgo := now.Add(-14 * 24 * time.Hour)

	thisWeek, err := a.CountForPeriod(ctx, customerID, weekAgo, now)
	if err != nil {
		return nil, err
	}
	lastWeek, err := a.CountForPeriod(ctx, customerID, twoWeeksAgo, weekAgo)
	if err != nil {
		return nil, err
	}

	growth := 0.0
	if lastWeek > 0 {
		growth = (float64(thisWeek) - float64(lastWeek)) / float64(lastWeek) * 100
	} else if thisWeek > 0 {
		growth = 100
	}
	return &Growth{ThisWeek: thisWeek, LastWeek: lastWeek, GrowthPercent: growth}, nil
}

func (a *analytics) SystemRecent(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []Record
	err := a.db.WithContext(ctx).
		Order("occurred_at desc").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
