package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/metergate/internal/config"
	"go.uber.org/zap"
)

const billingClientTimeout = 10 * time.Second

// BillingClient forwards gateway requests to the trusted billing
// process. A transport failure surfaces as 503.
type BillingClient struct {
	base          string
	analyticsBase string
	client        *http.Client
	log           *zap.Logger
}

func NewBillingClient(cfg config.Config, log *zap.Logger) *BillingClient {
	return &BillingClient{
		base:          cfg.BillingServiceURL,
		analyticsBase: cfg.AnalyticsServiceURL,
		client:        &http.Client{Timeout: billingClientTimeout},
		log:           log.Named("billing.client"),
	}
}

// Forwarded is the downstream response relayed verbatim.
type Forwarded struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Do calls the billing service and relays status and body. Analytics
// paths go to the dedicated analytics service when one is configured.
func (b *BillingClient) Do(ctx context.Context, method, path string, query url.Values, body []byte) (*Forwarded, error) {
	base := b.base
	if b.analyticsBase != "" && strings.HasPrefix(path, "/internal/analytics") {
		base = b.analyticsBase
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Warn("billing service unreachable", zap.String("path", path), zap.Error(err))
		return nil, ErrServiceUnavailable
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	return &Forwarded{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}
