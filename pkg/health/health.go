package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// Status is the state of the service or one of its dependencies.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// DefaultCheckTimeout bounds every individual probe.
const DefaultCheckTimeout = 2 * time.Second

// Response is the body of both health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status    Status `json:"status"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type check struct {
	fn       Checker
	optional bool
}

// Handler serves liveness and readiness endpoints. Required checks decide
// readiness; a failing optional check only degrades the reported status.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
}

// NewHandler creates a handler with DefaultCheckTimeout.
func NewHandler() *Handler {
	return &Handler{checks: make(map[string]check), timeout: DefaultCheckTimeout}
}

// SetTimeout changes the per-check timeout.
func (h *Handler) SetTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// Register adds a required check, replacing any check with the same name.
func (h *Handler) Register(name string, fn Checker) {
	h.register(name, check{fn: fn})
}

// RegisterOptional adds a check whose failure does not make the service unready.
func (h *Handler) RegisterOptional(name string, fn Checker) {
	h.register(name, check{fn: fn, optional: true})
}

func (h *Handler) register(name string, c check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// Check runs every registered probe concurrently.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	checks := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	timeout := h.timeout
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checks))
	)
	for name, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := run(ctx, c, timeout)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusUp
	for _, res := range results {
		switch {
		case res.Status == StatusUp:
		case res.Optional:
			if overall == StatusUp {
				overall = StatusDegraded
			}
		default:
			overall = StatusDown
		}
	}

	return Response{Status: overall, Timestamp: time.Now().UTC(), Checks: results}
}

func run(ctx context.Context, c check, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(ctx)
	res := CheckResult{
		Status:    StatusUp,
		Optional:  c.optional,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Status = StatusDown
		res.Error = err.Error()
	}
	return res
}

// LivenessHandler reports up while the process can serve HTTP.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: time.Now().UTC()})
	}
}

// ReadinessHandler answers 503 when any required check fails.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		status := http.StatusOK
		if resp.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
