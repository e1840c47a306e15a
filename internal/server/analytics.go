package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	"github.com/smallbiznis/metergate/internal/usage"
)

func (s *BillingServer) handleUsageCount(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	// Defaults to the current billing period.
	start, end := time.Time{}, time.Time{}
	if raw := c.Query("start"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		start = t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		end = t
	}
	if start.IsZero() || end.IsZero() {
		period, err := s.cycles.CurrentPeriod(c.Request.Context(), customerID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		start, end = period.Start, period.End
	}

	result, err := s.pricing.CalculateUsageForPeriod(c.Request.Context(), customerID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *BillingServer) handleTrends(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	granularity := usage.Granularity(c.DefaultQuery("granularity", "hour"))
	if granularity != usage.GranularityHour && granularity != usage.GranularityDay {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	buckets, _ := strconv.Atoi(c.DefaultQuery("buckets", "24"))

	points, err := s.analytics.Trend(c.Request.Context(), customerID, granularity, buckets)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granularity": granularity, "points": points})
}

func (s *BillingServer) handleTopEndpoints(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	window := usage.Window(c.DefaultQuery("window", "day"))
	switch window {
	case usage.WindowDay, usage.WindowWeek, usage.WindowMonth, usage.WindowAll:
	default:
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	stats, err := s.analytics.TopEndpoints(c.Request.Context(), customerID, window, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": window, "endpoints": stats})
}

func (s *BillingServer) handleErrorRate(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if hours <= 0 {
		hours = 24
	}
	since := s.clock.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	rate, err := s.analytics.ErrorRate(c.Request.Context(), customerID, since)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rate)
}

func (s *BillingServer) handleGrowth(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	growth, err := s.analytics.Growth(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, growth)
}

func (s *BillingServer) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	var customers, activeCustomers int64
	if err := s.db.WithContext(ctx).Model(&customerdomain.Customer{}).Count(&customers).Error; err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.db.WithContext(ctx).Model(&customerdomain.Customer{}).Where("is_active = ?", true).Count(&activeCustomers).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	var usageLastDay int64
	since := s.clock.Now().UTC().Add(-24 * time.Hour)
	if err := s.db.WithContext(ctx).Model(&usage.Record{}).Where("occurred_at >= ?", since).Count(&usageLastDay).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.invoices.Summarize(ctx, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"customers":        customers,
		"active_customers": activeCustomers,
		"usage_last_24h":   usageLastDay,
		"invoices":         summary,
	})
}

func (s *BillingServer) handleUsageLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := s.analytics.SystemRecent(c.Request.Context(), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
