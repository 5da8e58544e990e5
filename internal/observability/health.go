package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency; a nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker backs /healthz and /readyz. Readiness requires both the
// ready flag (set once recovery and bootstrap finish) and every registered
// dependency check to pass.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	sequence func() int64
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// AddCheck registers a dependency probe run on every readiness request.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// ReportSequence makes probes include the next sequence the engine will assign.
func (h *HealthChecker) ReportSequence(next func() int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sequence = next
}

// LivenessHandler answers 200 for as long as the process can serve HTTP.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "alive",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}
	h.addSequence(body)
	writeProbe(w, http.StatusOK, body)
}

// ReadinessHandler answers 503 until ready and while any check fails.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := h.runChecks(ctx)
	status, code := "ready", http.StatusOK
	switch {
	case !h.ready.Load():
		status, code = "not_ready", http.StatusServiceUnavailable
	case len(failures) > 0:
		status, code = "degraded", http.StatusServiceUnavailable
	}

	body := map[string]any{"status": status}
	if len(failures) > 0 {
		body["failures"] = failures
	}
	h.addSequence(body)
	writeProbe(w, code, body)
}

func (h *HealthChecker) runChecks(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	var failures map[string]string
	for i, check := range checks {
		if err := check(ctx); err != nil {
			if failures == nil {
				failures = make(map[string]string)
			}
			failures[names[i]] = err.Error()
		}
	}
	return failures
}

func (h *HealthChecker) addSequence(body map[string]any) {
	h.mu.RLock()
	next := h.sequence
	h.mu.RUnlock()
	if next != nil {
		body["next_sequence"] = next()
	}
}

func writeProbe(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
