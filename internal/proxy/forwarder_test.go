package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/metergate/internal/config"
	"github.com/smallbiznis/metergate/internal/keyresolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func authFor(upstream string) *keyresolver.AuthContext {
	return &keyresolver.AuthContext{
		Developer: keyresolver.DeveloperContext{
			Name:            "acme",
			UpstreamBaseURL: upstream,
		},
	}
}

func TestForwardBuildsTargetURL(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := NewForwarder(config.Config{}, zap.NewNop())
	resp, err := f.Forward(context.Background(), authFor(upstream.URL), Request{
		Method: "GET",
		Path:   "/get",
		Query:  "a=1&b=2",
		Header: http.Header{},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	require.NotNil(t, got)
	assert.Equal(t, "/get", got.URL.Path)
	assert.Equal(t, "a=1&b=2", got.URL.RawQuery)
}

func TestForwardEmptyPathBecomesRoot(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := NewForwarder(config.Config{}, zap.NewNop())
	_, err := f.Forward(context.Background(), authFor(upstream.URL), Request{Method: "GET", Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, "/", gotPath)
}

func TestForwardStripsGatewayHeaders(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	header := http.Header{}
	header.Set("X-Api-Key", "mg_secret")
	header.Set("X-Forwarded-For", "1.2.3.4")
	header.Set("X-Real-Ip", "1.2.3.4")
	header.Set("Connection", "keep-alive")
	header.Set("X-Custom", "passes")
	header.Set("Authorization", "Bearer upstream-token")

	f := NewForwarder(config.Config{}, zap.NewNop())
	_, err := f.Forward(context.Background(), authFor(upstream.URL), Request{
		Method: "GET",
		Path:   "/headers",
		Header: header,
	})
	require.NoError(t, err)

	assert.Empty(t, got.Get("X-Api-Key"))
	assert.Empty(t, got.Get("X-Forwarded-For"))
	assert.Empty(t, got.Get("X-Real-Ip"))
	assert.Equal(t, "passes", got.Get("X-Custom"))
	assert.Equal(t, "Bearer upstream-token", got.Get("Authorization"))
}

func TestForwardPassesUpstreamErrorsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer upstream.Close()

	f := NewForwarder(config.Config{}, zap.NewNop())
	resp, err := f.Forward(context.Background(), authFor(upstream.URL), Request{
		Method: "GET",
		Path:   "/status/418",
		Header: http.Header{},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "short and stout", string(resp.Body))
}

func TestForwardTransportErrorIsGatewayError(t *testing.T) {
	f := NewForwarder(config.Config{}, zap.NewNop())
	_, err := f.Forward(context.Background(), authFor("http://127.0.0.1:1"), Request{
		Method: "GET",
		Path:   "/get",
		Header: http.Header{},
	})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestForwardFallsBackToDefaultUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := NewForwarder(config.Config{UpstreamDefaultURL: upstream.URL}, zap.NewNop())
	resp, err := f.Forward(context.Background(), authFor(""), Request{
		Method: "GET",
		Path:   "/get",
		Header: http.Header{},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForwardNoUpstreamConfigured(t *testing.T) {
	f := NewForwarder(config.Config{}, zap.NewNop())
	_, err := f.Forward(context.Background(), authFor(""), Request{
		Method: "GET",
		Path:   "/get",
		Header: http.Header{},
	})
	assert.ErrorIs(t, err, ErrNoUpstream)
}

func TestForwardSendsBody(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	f := NewForwarder(config.Config{}, zap.NewNop())
	resp, err := f.Forward(context.Background(), authFor(upstream.URL), Request{
		Method: "POST",
		Path:   "/post",
		Header: header,
		Body:   []byte(`{"k":"v"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"k":"v"}`, string(gotBody))
}
