// Package server provides the worker's ops endpoints and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Status is the state of one dependency or of the worker as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of checking one dependency.
type Check struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Checker checks one dependency. The name is filled in by Health.
type Checker func(ctx context.Context) Check

// Report is the JSON body of every health endpoint.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Checks    []Check   `json:"checks,omitempty"`
}

// checkTimeout bounds one /healthz request across all checkers.
const checkTimeout = 5 * time.Second

// Health serves /healthz, /readyz, /livez and optionally /metrics.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	ready    bool

	version string
	metrics http.Handler
}

// NewHealth returns endpoints that report not ready until SetReady(true).
// metrics may be nil.
func NewHealth(version string, metrics http.Handler) *Health {
	return &Health{
		checkers: make(map[string]Checker),
		version:  version,
		metrics:  metrics,
	}
}

// Register adds or replaces the checker for a dependency.
func (h *Health) Register(name string, c Checker) {
	h.mu.Lock()
	h.checkers[name] = c
	h.mu.Unlock()
}

func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

func (h *Health) isReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Handler routes the health endpoints.
func (h *Health) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.serveHealth)
	r.Get("/readyz", h.serveReady)
	r.Get("/livez", h.serveLive)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

// run calls every checker in name order. Any unhealthy check makes the
// report unhealthy; a degraded one only lowers a healthy report.
func (h *Health) run(ctx context.Context) Report {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	checkers := make([]Checker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = h.checkers[name]
	}
	h.mu.RUnlock()

	rep := h.report(StatusHealthy)
	rep.Checks = make([]Check, 0, len(names))
	for i, c := range checkers {
		check := c(ctx)
		check.Name = names[i]
		rep.Checks = append(rep.Checks, check)
		switch {
		case check.Status == StatusUnhealthy:
			rep.Status = StatusUnhealthy
		case check.Status == StatusDegraded && rep.Status == StatusHealthy:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

func (h *Health) report(status Status) Report {
	return Report{Status: status, Timestamp: time.Now().UTC(), Version: h.version}
}

func (h *Health) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()
	writeReport(w, h.run(ctx))
}

func (h *Health) serveReady(w http.ResponseWriter, _ *http.Request) {
	if !h.isReady() {
		writeReport(w, h.report(StatusUnhealthy))
		return
	}
	writeReport(w, h.report(StatusHealthy))
}

// serveLive answers as long as the process can serve HTTP.
func (h *Health) serveLive(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.report(StatusHealthy))
}

func writeReport(w http.ResponseWriter, rep Report) {
	code := http.StatusOK
	if rep.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

func pingChecker(component string, onFailure Status, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{Status: onFailure, Message: component + " unreachable: " + err.Error()}
		}
		return Check{Status: StatusHealthy, Message: component + " reachable"}
	}
}

// TemporalCheck fails the worker when the Temporal frontend is unreachable.
func TemporalCheck(ping func(ctx context.Context) error) Checker {
	return pingChecker("temporal", StatusUnhealthy, ping)
}

// GraphStoreCheck fails the worker when Neo4j is unreachable; activities
// cannot read a namespace without it.
func GraphStoreCheck(ping func(ctx context.Context) error) Checker {
	return pingChecker("graph store", StatusUnhealthy, ping)
}

// VectorStoreCheck only degrades the worker, since publishing is optional.
func VectorStoreCheck(collection string, ping func(ctx context.Context) error) Checker {
	inner := pingChecker("vector store", StatusDegraded, ping)
	return func(ctx context.Context) Check {
		c := inner(ctx)
		c.Details = map[string]string{"collection": collection}
		return c
	}
}
