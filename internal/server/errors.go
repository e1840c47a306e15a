package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/metergate/internal/customer/domain"
	"github.com/smallbiznis/metergate/internal/developer"
	invoicedomain "github.com/smallbiznis/metergate/internal/invoice/domain"
	"github.com/smallbiznis/metergate/internal/keyresolver"
	"github.com/smallbiznis/metergate/internal/proxy"
	"github.com/smallbiznis/metergate/internal/tier"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrQuotaExhausted     = errors.New("quota_exhausted")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware maps domain errors to the HTTP taxonomy once
// per request, after the handler chain.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError records err for the error middleware and stops the
// chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, keyresolver.ErrNoMatch):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "invalid or missing credentials"}
	case errors.Is(err, ErrQuotaExhausted):
		return http.StatusTooManyRequests, errorPayload{Type: "quota_exhausted", Message: "daily request quota exhausted"}
	case errors.Is(err, invoicedomain.ErrDuplicatePeriod):
		return http.StatusBadRequest, errorPayload{Type: "duplicate_invoice", Message: "an invoice already exists for this period"}
	case errors.Is(err, invoicedomain.ErrInvalidPeriod),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrInvalidTransition),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, tier.ErrNotFound),
		errors.Is(err, developer.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}
	case errors.Is(err, proxy.ErrUpstream), errors.Is(err, proxy.ErrNoUpstream):
		return http.StatusBadGateway, errorPayload{Type: "bad_gateway", Message: "upstream unavailable"}
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "downstream service unavailable"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal error"}
	}
}
