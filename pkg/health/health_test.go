package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func failing(msg string) Checker {
	return func(context.Context) error { return errors.New(msg) }
}

func serveReady(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler()
	h.Register("storage", failing("down"))

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *Handler)
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "no checks",
			setup:      func(*Handler) {},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "all up",
			setup: func(h *Handler) {
				h.Register("storage", up)
				h.RegisterOptional("kafka", up)
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name: "optional down",
			setup: func(h *Handler) {
				h.Register("storage", up)
				h.RegisterOptional("kafka", failing("no brokers"))
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "required down",
			setup: func(h *Handler) {
				h.Register("storage", failing("connection refused"))
				h.RegisterOptional("kafka", failing("no brokers"))
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			tt.setup(h)

			code, resp := serveReady(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestReadiness_ReportsEachCheck(t *testing.T) {
	h := NewHandler()
	h.Register("storage", failing("connection refused"))
	h.RegisterOptional("kafka", up)

	_, resp := serveReady(t, h)

	require.Len(t, resp.Checks, 2)
	assert.Equal(t, CheckResult{Status: StatusDown, Error: "connection refused"}, withoutLatency(resp.Checks["storage"]))
	assert.Equal(t, CheckResult{Status: StatusUp, Optional: true}, withoutLatency(resp.Checks["kafka"]))
}

func TestCheck_TimesOutSlowProbe(t *testing.T) {
	h := NewHandler()
	h.SetTimeout(20 * time.Millisecond)
	h.Register("storage", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	resp := h.Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["storage"].Error)
}

func TestRegister_ReplacesByName(t *testing.T) {
	h := NewHandler()
	h.Register("storage", failing("old"))
	h.Register("storage", up)

	resp := h.Check(context.Background())
	assert.Equal(t, StatusUp, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func withoutLatency(r CheckResult) CheckResult {
	r.LatencyMs = 0
	return r
}
