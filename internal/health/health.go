// Package health serves liveness and readiness probes plus the
// Prometheus scrape endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
)

const checkTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// PingChecker adapts anything with a Ping method, which covers both the
// database store and the message fabric.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string                    { return c.name }
func (c *PingChecker) Check(ctx context.Context) error { return c.ping(ctx) }

type Handler struct {
	checkers []Checker
	log      zerolog.Logger
}

func NewHandler(checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, log: logger.Component("health")}
}

// Router mounts the probe endpoints and the metrics scrape.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/health", h.Readyz)
	for _, c := range h.checkers {
		c := c
		r.Get("/health/"+c.Name(), func(w http.ResponseWriter, req *http.Request) {
			h.single(w, req, c)
		})
	}
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Healthz reports that the process is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Readyz probes every dependency and reports the aggregate.
func (h *Handler) Readyz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
	defer cancel()

	results := make([]checkResult, 0, len(h.checkers))
	healthy := true
	for _, c := range h.checkers {
		if err := c.Check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", c.Name()).Msg("readiness check failed")
			results = append(results, checkResult{Name: c.Name(), Status: "unhealthy", Error: err.Error()})
			healthy = false
			continue
		}
		results = append(results, checkResult{Name: c.Name(), Status: "healthy"})
	}

	resp := struct {
		Status string        `json:"status"`
		Checks []checkResult `json:"checks"`
	}{Status: "ready", Checks: results}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) single(w http.ResponseWriter, req *http.Request, c Checker) {
	ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := c.Check(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(checkResult{Name: c.Name(), Status: "unhealthy", Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(checkResult{Name: c.Name(), Status: "healthy"})
}

// Serve runs the probe server until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
