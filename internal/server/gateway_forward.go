package server

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// relay writes a downstream response back to the caller.
func relay(c *gin.Context, fwd *Forwarded) {
	contentType := fwd.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(fwd.StatusCode, contentType, fwd.Body)
}

// forwardCustomerScoped proxies a billing route for the authenticated
// customer; the customer id always comes from the resolved key, never
// from the caller.
func (s *GatewayServer) forwardCustomerScoped(suffix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := AuthFromContext(c)
		if auth == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
		}

		path := fmt.Sprintf("/internal/billing/customers/%s%s", auth.Customer.ID, suffix)
		fwd, err := s.billing.Do(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), body)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		relay(c, fwd)
	}
}

func (s *GatewayServer) forwardCustomerScopedAnalytics(suffix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := AuthFromContext(c)
		if auth == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		path := fmt.Sprintf("/internal/analytics/customers/%s%s", auth.Customer.ID, suffix)
		fwd, err := s.billing.Do(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), nil)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		relay(c, fwd)
	}
}

// handleTiers lists all tiers with isCurrent annotated for the caller.
func (s *GatewayServer) handleTiers(c *gin.Context) {
	auth := AuthFromContext(c)
	if auth == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	query := url.Values{"customerId": {auth.Customer.ID.String()}}
	fwd, err := s.billing.Do(c.Request.Context(), "GET", "/internal/billing/tiers", query, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relay(c, fwd)
}

// handleCustomerInvoices lists invoices; customerId is overridden by
// the authenticated customer on this mount.
func (s *GatewayServer) handleCustomerInvoices(c *gin.Context) {
	auth := AuthFromContext(c)
	if auth == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	query := c.Request.URL.Query()
	query.Set("customerId", auth.Customer.ID.String())
	fwd, err := s.billing.Do(c.Request.Context(), "GET", "/internal/billing/invoices", query, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relay(c, fwd)
}

func (s *GatewayServer) handleCustomerInvoiceSummary(c *gin.Context) {
	auth := AuthFromContext(c)
	if auth == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	query := url.Values{"customerId": {auth.Customer.ID.String()}}
	fwd, err := s.billing.Do(c.Request.Context(), "GET", "/internal/billing/invoices/summary", query, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relay(c, fwd)
}

func (s *GatewayServer) handleCustomerInvoice(c *gin.Context) {
	auth := AuthFromContext(c)
	if auth == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	query := url.Values{"customerId": {auth.Customer.ID.String()}}
	path := "/internal/billing/invoices/" + c.Param("id")
	fwd, err := s.billing.Do(c.Request.Context(), "GET", path, query, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relay(c, fwd)
}

// forwardAdmin relays an admin route verbatim, no customer override.
func (s *GatewayServer) forwardAdmin(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
		}

		fwd, err := s.billing.Do(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), body)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		relay(c, fwd)
	}
}

func (s *GatewayServer) forwardAdminInvoice(suffix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
		}

		path := "/internal/billing/invoices/" + c.Param("id") + suffix
		fwd, err := s.billing.Do(c.Request.Context(), c.Request.Method, path, c.Request.URL.Query(), body)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		relay(c, fwd)
	}
}

func (s *GatewayServer) handleCustomerInvoiceAction(suffix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := AuthFromContext(c)
		if auth == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
		}

		query := url.Values{"customerId": {auth.Customer.ID.String()}}
		path := "/internal/billing/invoices/" + c.Param("id") + suffix
		fwd, err := s.billing.Do(c.Request.Context(), c.Request.Method, path, query, body)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		relay(c, fwd)
	}
}

// handleRecentUsage serves the customer's freshest calls straight from
// the fast-store buffer.
func (s *GatewayServer) handleRecentUsage(c *gin.Context) {
	auth := AuthFromContext(c)
	if auth == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.buffer.Recent(c.Request.Context(), auth.Customer.ID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"records": records})
}

func (s *GatewayServer) handleAdminCustomerUsage(c *gin.Context) {
	path := fmt.Sprintf("/internal/analytics/customers/%s/usage", c.Param("id"))
	fwd, err := s.billing.Do(c.Request.Context(), "GET", path, c.Request.URL.Query(), nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relay(c, fwd)
}

// handleAdminRateLimitState reads the live counter from the fast
// store; this is served locally since the gateway owns the counters.
func (s *GatewayServer) handleAdminRateLimitState(c *gin.Context) {
	customerID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	count, resetAt, err := s.limiter.State(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	response := gin.H{"customer_id": customerID.String(), "count": count}
	if !resetAt.IsZero() {
		response["reset_at"] = resetAt
	}
	c.JSON(200, response)
}

// handleAdminCustomerByKey resolves a secret locally through the key
// resolver.
func (s *GatewayServer) handleAdminCustomerByKey(c *gin.Context) {
	secret := c.Query("key")
	if secret == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	auth, err := s.resolver.Resolve(c.Request.Context(), secret)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(200, auth)
}
