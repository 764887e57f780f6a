// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	server.Janitor().Record("password_reset", nil)

	code, body := get(t, server.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_", "default registry is included")
	assert.Contains(t, body, "fort_janitor_runs_total")
	assert.Contains(t, body, "fort_janitor_last_success_timestamp_seconds")
}

func TestServer_Liveness(t *testing.T) {
	server := NewServer("127.0.0.1:0", func(context.Context) error { return errors.New("db down") }, nil)

	code, body := get(t, server.Handler(), "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code, "liveness ignores readiness")
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name    string
		checker ReadinessChecker
		code    int
		body    string
	}{
		{"no checker", nil, http.StatusOK, "ok"},
		{"ready", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"not ready", func(context.Context) error { return errors.New("ping failed") }, http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.checker, nil)
			code, body := get(t, server.Handler(), "/healthz/readiness")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.body, strings.TrimSpace(body))
		})
	}
}

func TestJanitorMetrics_Record(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	m := server.Janitor()

	m.Record("phone_challenge", nil)
	m.Record("phone_challenge", errors.New("boom"))
	m.Record("phone_challenge", errors.New("boom"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("phone_challenge", "ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RunsTotal.WithLabelValues("phone_challenge", "error")), 0)
	assert.Greater(t, testutil.ToFloat64(m.LastSuccess.WithLabelValues("phone_challenge")), float64(0))
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	assert.Empty(t, server.Addr())

	errCh, err := server.Start()
	require.NoError(t, err)

	_, err = server.Start()
	require.Error(t, err, "double start")

	resp, err := http.Get("http://" + server.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx), "stop is idempotent")

	_, open := <-errCh
	assert.False(t, open, "error channel closes on graceful stop")
}

func TestServer_StartInvalidAddress(t *testing.T) {
	server := NewServer("invalid-address-no-port", nil, nil)
	_, err := server.Start()
	require.Error(t, err)

	// A failed start leaves the server restartable.
	assert.NoError(t, server.Stop(context.Background()))
}
