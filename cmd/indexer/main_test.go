package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/near-indexer/engine/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthzHandler_ReturnsOKWhenUnknown(t *testing.T) {
	hb := health.New()
	handler := healthzHandler(hb)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"UNKNOWN"`)
}

func TestHealthzHandler_ReturnsOKAfterSuccess(t *testing.T) {
	hb := health.New()
	hb.RecordSuccess()
	handler := healthzHandler(hb)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"HEALTHY"`)
}

func TestHealthzHandler_ReturnsServiceUnavailableAfterConsecutiveFailures(t *testing.T) {
	hb := health.New()
	for i := 0; i < health.DefaultUnhealthyThreshold; i++ {
		hb.RecordFailure()
	}
	handler := healthzHandler(hb)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"UNHEALTHY"`)
	assert.Contains(t, rec.Body.String(), `"consecutiveFailures":5`)
}

func TestHealthzHandler_RecoversToHealthyAfterSuccess(t *testing.T) {
	hb := health.New()
	for i := 0; i < health.DefaultUnhealthyThreshold; i++ {
		hb.RecordFailure()
	}
	hb.RecordSuccess()
	handler := healthzHandler(hb)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"HEALTHY"`)
}

func TestRunHealthServer_ShutsDownOnContextCancel(t *testing.T) {
	hb := health.New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- runHealthServer(ctx, freePort(t), hb, discardLogger()) }()

	cancel()
	err := <-errCh
	assert.NoError(t, err)
}
