package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	"github.com/smallbiznis/metergate/internal/keyresolver"
	"github.com/smallbiznis/metergate/internal/observability/metrics"
	"github.com/smallbiznis/metergate/internal/proxy"
	"github.com/smallbiznis/metergate/internal/ratelimit"
	"github.com/smallbiznis/metergate/internal/usage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// maxProxyBody bounds buffered request bodies on the proxy path.
const maxProxyBody = 10 << 20

type GatewayParams struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	GenID     *snowflake.Node
	Resolver  keyresolver.Resolver
	Limiter   ratelimit.Limiter
	Forwarder proxy.Forwarder
	Buffer    usage.Buffer
	Clock     clock.Clock
	Billing   *BillingClient
}

// GatewayServer serves the public proxy path plus the customer- and
// admin-facing billing/analytics routes.
type GatewayServer struct {
	cfg       config.Config
	log       *zap.Logger
	genID     *snowflake.Node
	resolver  keyresolver.Resolver
	limiter   ratelimit.Limiter
	forwarder proxy.Forwarder
	buffer    usage.Buffer
	clock     clock.Clock
	billing   *BillingClient
}

func NewGatewayServer(p GatewayParams) *GatewayServer {
	return &GatewayServer{
		cfg:       p.Config,
		log:       p.Log.Named("gateway"),
		genID:     p.GenID,
		resolver:  p.Resolver,
		limiter:   p.Limiter,
		forwarder: p.Forwarder,
		buffer:    p.Buffer,
		clock:     p.Clock,
		billing:   p.Billing,
	}
}

// RegisterRoutes mounts every gateway route group.
func (s *GatewayServer) RegisterRoutes(r *gin.Engine) {
	r.Any("/api/*path", APIKeyRequired(s.resolver), s.handleProxy)

	billing := r.Group("/billing", APIKeyRequired(s.resolver))
	{
		billing.GET("/current-period", s.forwardCustomerScoped("/current-period"))
		billing.GET("/current-usage", s.forwardCustomerScoped("/current-usage"))
		billing.GET("/history", s.forwardCustomerScoped("/history"))
		billing.GET("/tiers", s.handleTiers)
		billing.POST("/preview-upgrade", s.forwardCustomerScoped("/preview-upgrade"))
		billing.GET("/invoices", s.handleCustomerInvoices)
		billing.GET("/invoices/summary", s.handleCustomerInvoiceSummary)
		billing.GET("/invoices/:id", s.handleCustomerInvoice)
		billing.PUT("/invoices/:id/status", s.handleCustomerInvoiceAction("/status"))
		billing.PUT("/invoices/:id/mark-paid", s.handleCustomerInvoiceAction("/mark-paid"))
	}

	analytics := r.Group("/analytics", APIKeyRequired(s.resolver))
	{
		analytics.GET("/recent", s.handleRecentUsage)
		analytics.GET("/usage", s.forwardCustomerScopedAnalytics("/usage"))
		analytics.GET("/trends", s.forwardCustomerScopedAnalytics("/trends"))
		analytics.GET("/top-endpoints", s.forwardCustomerScopedAnalytics("/top-endpoints"))
		analytics.GET("/error-rate", s.forwardCustomerScopedAnalytics("/error-rate"))
		analytics.GET("/growth", s.forwardCustomerScopedAnalytics("/growth"))
	}

	admin := r.Group("/admin", AdminRequired(s.cfg.AdminAPIKey))
	{
		admin.GET("/stats", s.forwardAdmin("/internal/admin/stats"))
		admin.GET("/usage-logs", s.forwardAdmin("/internal/admin/usage-logs"))
		admin.GET("/customers/:id/usage", s.handleAdminCustomerUsage)
		admin.GET("/customers/:id/rate-limit", s.handleAdminRateLimitState)
		admin.GET("/customer-by-key", s.handleAdminCustomerByKey)
		admin.GET("/invoices", s.forwardAdmin("/internal/billing/invoices"))
		admin.GET("/invoices/summary", s.forwardAdmin("/internal/billing/invoices/summary"))
		admin.GET("/invoices/:id", s.forwardAdminInvoice(""))
		admin.PUT("/invoices/:id/status", s.forwardAdminInvoice("/status"))
		admin.PUT("/invoices/:id/mark-paid", s.forwardAdminInvoice("/mark-paid"))
		admin.POST("/invoices/generate", s.forwardAdmin("/internal/billing/generate"))
		admin.POST("/invoices/generate-monthly", s.forwardAdmin("/internal/billing/generate-monthly"))
	}
}

// handleProxy is the request-path pipeline: rate limit, forward,
// record usage.
func (s *GatewayServer) handleProxy(c *gin.Context) {
	auth := AuthFromContext(c)
	if auth == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.limiter.CheckAndIncrement(c.Request.Context(), auth.Customer.ID, auth.Customer.DailyQuota)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !result.Unlimited {
		c.Header(headerRateLimitLimit, strconv.FormatInt(result.Limit, 10))
		c.Header(headerRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
		c.Header(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))
	}

	switch {
	case result.Unlimited:
		metrics.RateLimitDecisions.WithLabelValues("unlimited").Inc()
	case result.Allowed:
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	default:
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
		// No upstream call and no usage record for denied requests.
		AbortWithError(c, ErrQuotaExhausted)
		return
	}

	strippedPath := c.Param("path")
	if strippedPath == "" {
		strippedPath = "/"
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	req := proxy.Request{
		Method: c.Request.Method,
		Path:   strippedPath,
		Query:  c.Request.URL.RawQuery,
		Header: c.Request.Header,
		Body:   body,
	}

	resp, ferr := s.forwarder.Forward(c.Request.Context(), auth, req)

	statusCode := http.StatusBadGateway
	elapsed := time.Duration(0)
	if ferr == nil {
		statusCode = resp.StatusCode
		elapsed = resp.Elapsed
		metrics.UpstreamDuration.Observe(elapsed.Seconds())
	}

	s.recordUsage(c, auth, strippedPath, statusCode, elapsed)

	if ferr != nil {
		AbortWithError(c, ferr)
		return
	}

	copyUpstreamHeaders(c, resp.Header)
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

func (s *GatewayServer) recordUsage(c *gin.Context, auth *keyresolver.AuthContext, endpoint string, status int, elapsed time.Duration) {
	keyID := auth.Key.ID
	record := usage.Record{
		ID:             s.genID.Generate(),
		CustomerID:     auth.Customer.ID,
		APIKeyID:       &keyID,
		Endpoint:       endpoint,
		Method:         c.Request.Method,
		StatusCode:     status,
		ResponseTimeMs: elapsed.Milliseconds(),
		OccurredAt:     s.clock.Now().UTC(),
	}
	// Detach from the request context: the record is emitted even if
	// the caller has gone away by now.
	s.buffer.Push(context.WithoutCancel(c.Request.Context()), record)
}

// hop-by-hop headers the gateway never relays back.
var skippedResponseHeaders = map[string]struct{}{
	"connection":        {},
	"transfer-encoding": {},
	"content-length":    {},
	"keep-alive":        {},
}

func copyUpstreamHeaders(c *gin.Context, header http.Header) {
	for name, values := range header {
		if _, skip := skippedResponseHeaders[strings.ToLower(name)]; skip {
			continue
		}
		if strings.EqualFold(name, "Content-Type") {
			continue // set by c.Data
		}
		for _, value := range values {
			c.Writer.Header().Add(name, value)
		}
	}
}
