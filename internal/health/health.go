// Package health serves the runtime's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz
// probes the memory tiers behind the continuity service: required
// backends gate readiness, while optional ones only degrade it. A
// runtime whose hot tier is down still serves turns from the cold
// index, so it reports "degraded" with 200 rather than failing the
// probe and being pulled from rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single backend probe.
const checkTimeout = 5 * time.Second

// Checker probes one backend dependency.
type Checker struct {
	// Name keys the check in the JSON response ("redis", "cold-index").
	Name string

	// Check must respect context cancellation and return nil when the
	// backend is usable.
	Check func(ctx context.Context) error

	// Optional marks a backend the runtime can operate without. Its
	// failure degrades readiness instead of failing it.
	Optional bool
}

// checkResult is one backend's probe outcome in the response body.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// response is the JSON body for both probe endpoints.
type response struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// Handler serves the probe endpoints. The checker set is fixed at
// construction; a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe; it always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: statusOK})
}

// Readyz probes every backend concurrently and folds the outcomes:
// any required backend failing answers 503, only optional failures
// answer 200 with status "degraded".
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := h.probeAll(r.Context())

	status := statusOK
	code := http.StatusOK
	for i, c := range h.checkers {
		if results[c.Name].Status == statusOK {
			continue
		}
		if h.checkers[i].Optional {
			if status == statusOK {
				status = statusDegraded
			}
			continue
		}
		status = statusFail
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, response{Status: status, Checks: results})
}

// probeAll runs every checker concurrently under the probe timeout.
func (h *Handler) probeAll(ctx context.Context) map[string]checkResult {
	results := make(map[string]checkResult, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			res := checkResult{
				Status:  statusOK,
				Latency: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Status = statusFail
				res.Error = err.Error()
			}

			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// writeJSON encodes v with the given status, falling back to a bare
// 500 if encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
