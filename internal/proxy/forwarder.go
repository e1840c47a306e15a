// Package proxy forwards authorized requests to the owning developer's
// upstream API.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/metergate/internal/config"
	"github.com/smallbiznis/metergate/internal/keyresolver"
	"go.uber.org/zap"
)

const upstreamTimeout = 30 * time.Second

// strippedHeaders are removed before forwarding; the HTTP client
// recomputes transport headers and gateway credentials must not leak
// upstream.
var strippedHeaders = map[string]struct{}{
	"host":            {},
	"x-api-key":       {},
	"x-forwarded-for": {},
	"x-real-ip":       {},
	"connection":      {},
	"content-length":  {},
	"content-type":    {},
}

var (
	// ErrNoUpstream means neither the developer record nor the global
	// default provides a base URL.
	ErrNoUpstream = errors.New("no_upstream_configured")
	// ErrUpstream covers transport failures and the 30s deadline.
	ErrUpstream = errors.New("upstream_unreachable")
)

// Request is the sanitized inbound call: path has the /api prefix
// already stripped, query is the raw query string.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Response carries the upstream outcome verbatim.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Elapsed is the upstream round-trip, recorded on usage records.
	Elapsed time.Duration
}

type Forwarder interface {
	Forward(ctx context.Context, auth *keyresolver.AuthContext, req Request) (*Response, error)
}

type forwarder struct {
	client     *http.Client
	defaultURL string
	log        *zap.Logger
}

func NewForwarder(cfg config.Config, log *zap.Logger) Forwarder {
	return &forwarder{
		client: &http.Client{
			Timeout: upstreamTimeout,
		},
		defaultURL: cfg.UpstreamDefaultURL,
		log:        log.Named("proxy"),
	}
}

func (f *forwarder) Forward(ctx context.Context, auth *keyresolver.AuthContext, req Request) (*Response, error) {
	base := strings.TrimRight(auth.Developer.UpstreamBaseURL, "/")
	if base == "" {
		base = f.defaultURL
	}
	if base == "" {
		return nil, ErrNoUpstream
	}

	path := req.Path
	if path == "" {
		path = "/"
	}
	target := base + path
	if req.Query != "" {
		target += "?" + req.Query
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	for name, values := range req.Header {
		if _, drop := strippedHeaders[strings.ToLower(name)]; drop {
			continue
		}
		for _, value := range values {
			upstreamReq.Header.Add(name, value)
		}
	}
	if ct := req.Header.Get("Content-Type"); ct != "" && len(req.Body) > 0 {
		upstreamReq.Header.Set("Content-Type", ct)
	}

	started := time.Now()
	resp, err := f.client.Do(upstreamReq)
	elapsed := time.Since(started)
	if err != nil {
		f.log.Warn("upstream call failed",
			zap.String("target", target),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, ErrUpstream
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrUpstream
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       payload,
		Elapsed:    elapsed,
	}, nil
}
