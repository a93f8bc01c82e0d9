// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/cardmarket/internal/clock"
)

// checkTimeout bounds a whole readiness probe.
const checkTimeout = 5 * time.Second

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Leader    *bool             `json:"leader,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named dependency check.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler provides the probe endpoints. It starts not ready.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	leader   *bool
	checkers []Checker
	clock    clock.Clock
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetLeader reports whether this replica runs the leader-only jobs.
func (h *Handler) SetLeader(leader bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leader = &leader
}

// Mount registers /healthz and /readyz on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.LivenessHandler())
	r.Get("/readyz", h.ReadinessHandler())
}

func (h *Handler) now() string { return h.clock.Now().UTC().Format(time.RFC3339) }

// LivenessHandler returns HTTP 200 while the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h.mu.RLock()
		leader := h.leader
		h.mu.RUnlock()
		writeJSON(w, http.StatusOK, Status{Status: "ok", Leader: leader, Timestamp: h.now()})
	}
}

// ReadinessHandler returns HTTP 200 once the service is ready and every
// checker passes. Checkers run concurrently.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{Status: "not_ready", Timestamp: h.now()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		var (
			mu     sync.Mutex
			wg     sync.WaitGroup
			checks = make(map[string]string, len(h.checkers))
			allOK  = true
		)
		for _, c := range h.checkers {
			wg.Add(1)
			go func(c Checker) {
				defer wg.Done()
				result := "ok"
				if err := c.Check(ctx); err != nil {
					result = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				checks[c.Name] = result
				if result != "ok" {
					allOK = false
				}
			}(c)
		}
		wg.Wait()

		status, code := "ready", http.StatusOK
		if !allOK {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, Status{Status: status, Checks: checks, Timestamp: h.now()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
