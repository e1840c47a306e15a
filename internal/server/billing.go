package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/metergate/internal/billingcycle"
	"github.com/smallbiznis/metergate/internal/clock"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/pricing"
	"github.com/smallbiznis/metergate/internal/tier"
	"github.com/smallbiznis/metergate/internal/usage"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BillingParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Customers customerdomain.Service
	Tiers     tier.Service
	Cycles    billingcycle.Service
	Invoices  invoicedomain.Service
	Pricing   pricing.Service
	Analytics usage.Analytics
}

// BillingServer is the trusted internal API consumed by the gateway.
type BillingServer struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	customers customerdomain.Service
	tiers     tier.Service
	cycles    billingcycle.Service
	invoices  invoicedomain.Service
	pricing   pricing.Service
	analytics usage.Analytics
}

func NewBillingServer(p BillingParams) *BillingServer {
	return &BillingServer{
		db:        p.DB,
		log:       p.Log.Named("billing.api"),
		clock:     p.Clock,
		customers: p.Customers,
		tiers:     p.Tiers,
		cycles:    p.Cycles,
		invoices:  p.Invoices,
		pricing:   p.Pricing,
		analytics: p.Analytics,
	}
}

// RegisterRoutes mounts the internal surface. It is unauthenticated by
// design: the billing process listens on a trusted network only.
func (s *BillingServer) RegisterRoutes(r *gin.Engine) {
	billing := r.Group("/internal/billing")
	{
		billing.GET("/customers/:id/current-period", s.handleCurrentPeriod)
		billing.GET("/customers/:id/current-usage", s.handleCurrentUsage)
		billing.GET("/customers/:id/history", s.handleHistory)
		billing.POST("/customers/:id/preview-upgrade", s.handlePreviewUpgrade)
		billing.GET("/tiers", s.handleTiers)
		billing.GET("/invoices", s.handleListInvoices)
		billing.GET("/invoices/summary", s.handleInvoiceSummary)
		billing.GET("/invoices/:id", s.handleGetInvoice)
		billing.PUT("/invoices/:id/status", s.handleUpdateStatus)
		billing.PUT("/invoices/:id/mark-paid", s.handleMarkPaid)
		billing.POST("/generate", s.handleGenerate)
		billing.POST("/generate-monthly", s.handleGenerateMonthly)
	}

	analytics := r.Group("/internal/analytics")
	{
		analytics.GET("/customers/:id/usage", s.handleUsageCount)
		analytics.GET("/customers/:id/trends", s.handleTrends)
		analytics.GET("/customers/:id/top-endpoints", s.handleTopEndpoints)
		analytics.GET("/customers/:id/error-rate", s.handleErrorRate)
		analytics.GET("/customers/:id/growth", s.handleGrowth)
	}

	admin := r.Group("/internal/admin")
	{
		admin.GET("/stats", s.handleStats)
		admin.GET("/usage-logs", s.handleUsageLogs)
	}
}

func (s *BillingServer) handleCurrentPeriod(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}
	period, err := s.cycles.CurrentPeriod(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, period)
}

func (s *BillingServer) handleCurrentUsage(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	customer, err := s.customers.GetWithTier(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	period, err := s.cycles.CurrentPeriod(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	count, err := s.analytics.CountForPeriod(c.Request.Context(), customerID, period.Start, period.End)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Monthly capacity derives from the daily quota over the period.
	var limit any = "unlimited"
	percentage := 0.0
	if customer.Tier.DailyQuota > 0 {
		capacity := customer.Tier.DailyQuota * int64(period.DaysInPeriod())
		limit = capacity
		if capacity > 0 {
			percentage = float64(count) / float64(capacity) * 100
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"period": period,
		"usage": gin.H{
			"count":      count,
			"limit":      limit,
			"percentage": percentage,
		},
		"tier": gin.H{
			"name":                customer.Tier.Name,
			"monthly_price_cents": customer.Tier.MonthlyPriceCents,
		},
	})
}

func (s *BillingServer) handleHistory(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "12"))
	invoices, err := s.invoices.List(c.Request.Context(), invoicedomain.ListFilter{
		CustomerID: &customerID,
		Limit:      limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var paidTotal int64
	err = s.db.WithContext(c.Request.Context()).
		Model(&invoicedomain.Invoice{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("customer_id = ? AND status = ?", customerID, invoicedomain.StatusPaid).
		Scan(&paidTotal).Error
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invoices":            invoices,
		"lifetime_paid_cents": paidTotal,
	})
}

func (s *BillingServer) handlePreviewUpgrade(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	var body struct {
		NewTierID string `json:"newTierId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.NewTierID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	newTierID, err := snowflake.ParseString(body.NewTierID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	preview, err := s.pricing.PreviewTierUpgrade(c.Request.Context(), customerID, newTierID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (s *BillingServer) handleTiers(c *gin.Context) {
	tiers, err := s.tiers.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var currentTierID snowflake.ID
	if raw := c.Query("customerId"); raw != "" {
		if customerID, err := snowflake.ParseString(raw); err == nil {
			if customer, err := s.customers.GetByID(c.Request.Context(), customerID); err == nil {
				currentTierID = customer.TierID
			}
		}
	}

	type annotated struct {
		tier.Tier
		IsCurrent bool `json:"is_current"`
	}
	out := make([]annotated, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, annotated{Tier: t, IsCurrent: t.ID == currentTierID})
	}
	c.JSON(http.StatusOK, gin.H{"tiers": out})
}

func (s *BillingServer) handleListInvoices(c *gin.Context) {
	filter, ok := invoiceFilterFromQuery(c)
	if !ok {
		return
	}

	invoices, err := s.invoices.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *BillingServer) handleInvoiceSummary(c *gin.Context) {
	var customerID *snowflake.ID
	if raw := c.Query("customerId"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		customerID = &id
	}

	summary, err := s.invoices.Summarize(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *BillingServer) handleGetInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	inv, err := s.invoices.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Customer-facing mounts pin ownership.
	if raw := c.Query("customerId"); raw != "" {
		customerID, perr := snowflake.ParseString(raw)
		if perr != nil || inv.CustomerID != customerID {
			AbortWithError(c, invoicedomain.ErrNotFound)
			return
		}
	}
	c.JSON(http.StatusOK, inv)
}

// ownInvoice enforces the customer override on customer-facing
// mounts: a customerId query pins ownership.
func (s *BillingServer) ownInvoice(c *gin.Context, id snowflake.ID) bool {
	raw := c.Query("customerId")
	if raw == "" {
		return true
	}
	customerID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return false
	}
	inv, err := s.invoices.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return false
	}
	if inv.CustomerID != customerID {
		AbortWithError(c, invoicedomain.ErrNotFound)
		return false
	}
	return true
}

func (s *BillingServer) handleUpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !s.ownInvoice(c, id) {
		return
	}

	var body struct {
		Status             string     `json:"status"`
		PaidAt             *time.Time `json:"paidAt"`
		ExternalPaymentRef *string    `json:"externalPaymentRef"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	status := invoicedomain.Status(strings.ToUpper(strings.TrimSpace(body.Status)))
	inv, err := s.invoices.UpdateStatus(c.Request.Context(), id, status, body.PaidAt, body.ExternalPaymentRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *BillingServer) handleMarkPaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !s.ownInvoice(c, id) {
		return
	}

	inv, err := s.invoices.MarkPaid(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *BillingServer) handleGenerate(c *gin.Context) {
	var body struct {
		CustomerID  string    `json:"customerId"`
		PeriodStart time.Time `json:"periodStart"`
		PeriodEnd   time.Time `json:"periodEnd"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	customerID, err := snowflake.ParseString(body.CustomerID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	inv, err := s.invoices.Generate(c.Request.Context(), customerID, body.PeriodStart, body.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (s *BillingServer) handleGenerateMonthly(c *gin.Context) {
	var body struct {
		CustomerIDs []string `json:"customerIds"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	ids := make([]snowflake.ID, 0, len(body.CustomerIDs))
	for _, raw := range body.CustomerIDs {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		ids = append(ids, id)
	}

	result, err := s.invoices.GenerateMonthly(c.Request.Context(), ids)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func invoiceFilterFromQuery(c *gin.Context) (invoicedomain.ListFilter, bool) {
	var filter invoicedomain.ListFilter

	if raw := c.Query("customerId"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return filter, false
		}
		filter.CustomerID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := invoicedomain.Status(strings.ToUpper(raw))
		if !status.Valid() {
			AbortWithError(c, ErrInvalidRequest)
			return filter, false
		}
		filter.Status = &status
	}
	if raw := c.Query("startDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return filter, false
		}
		filter.StartDate = &t
	}
	if raw := c.Query("endDate"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return filter, false
		}
		filter.EndDate = &t
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return filter, true
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
