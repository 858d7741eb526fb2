package fetcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/metricshub"
)

var (
	fetchResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetcher_requests_total",
			Help: "Total number of processed portal requests by result",
		},
		[]string{"result"},
	)

	portalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetcher_portal_latency_seconds",
			Help:    "Portal round-trip latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
		},
	)

	waitingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetcher_waiting_requests",
			Help: "Requests currently waiting out the refresh jitter",
		},
	)

	lockedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetcher_locked_keys",
			Help: "Application keys currently being processed",
		},
	)
)

const (
	// metricsWindow is the sliding window for success/failed/retried
	// counters.
	metricsWindow = 30 * time.Minute
	// maxLatencySamples bounds the latency average to the most recent
	// observations.
	maxLatencySamples = 5
	reportInterval    = 60 * time.Second
)

// Collector accumulates per-instance fetch statistics and periodically
// broadcasts a snapshot over the metrics queue.
type Collector struct {
	fetcherID string
	window    time.Duration
	now       func() time.Time
	started   time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	success   []time.Time
	failed    []time.Time
	retried   []time.Time
	latencies []float64
	waiting   int
	locked    int
}

func NewCollector(fetcherID string) *Collector {
	return newCollector(fetcherID, metricsWindow, time.Now)
}

func newCollector(fetcherID string, window time.Duration, now func() time.Time) *Collector {
	return &Collector{
		fetcherID: fetcherID,
		window:    window,
		now:       now,
		started:   now(),
		log:       logger.Component("metrics"),
	}
}

func (c *Collector) RecordSuccess() {
	fetchResultsTotal.WithLabelValues("success").Inc()
	c.record(&c.success)
}

func (c *Collector) RecordFailure() {
	fetchResultsTotal.WithLabelValues("failed").Inc()
	c.record(&c.failed)
}

func (c *Collector) RecordRetry() {
	fetchResultsTotal.WithLabelValues("retried").Inc()
	c.record(&c.retried)
}

func (c *Collector) record(series *[]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*series = append(*series, c.now())
}

// RecordLatency keeps the most recent samples only.
func (c *Collector) RecordLatency(d time.Duration) {
	portalLatency.Observe(d.Seconds())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, d.Seconds())
	if len(c.latencies) > maxLatencySamples {
		c.latencies = c.latencies[len(c.latencies)-maxLatencySamples:]
	}
}

func (c *Collector) IncWaiting() {
	waitingRequests.Inc()
	c.mu.Lock()
	c.waiting++
	c.mu.Unlock()
}

func (c *Collector) DecWaiting() {
	waitingRequests.Dec()
	c.mu.Lock()
	c.waiting--
	c.mu.Unlock()
}

func (c *Collector) SetLocked(n int) {
	lockedKeys.Set(float64(n))
	c.mu.Lock()
	c.locked = n
	c.mu.Unlock()
}

// Snapshot prunes entries older than the window and renders the current
// state for the metrics queue.
func (c *Collector) Snapshot() metricshub.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-c.window)
	c.success = prune(c.success, cutoff)
	c.failed = prune(c.failed, cutoff)
	c.retried = prune(c.retried, cutoff)

	var avg float64
	if len(c.latencies) > 0 {
		var sum float64
		for _, l := range c.latencies {
			sum += l
		}
		avg = sum / float64(len(c.latencies))
	}

	return metricshub.Snapshot{
		FetcherID:       c.fetcherID,
		SuccessCount:    len(c.success),
		FailedCount:     len(c.failed),
		RetriedCount:    len(c.retried),
		AvgLatency:      avg,
		WaitingRequests: c.waiting,
		LockedKeys:      c.locked,
		UptimeSeconds:   now.Sub(c.started).Seconds(),
		WindowSeconds:   int(c.window.Seconds()),
		ReportedAtUnix:  now.Unix(),
	}
}

func prune(series []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(series) && series[i].Before(cutoff) {
		i++
	}
	return series[i:]
}

// metricsPublisher is the slice of the fabric the reporter needs.
type metricsPublisher interface {
	PublishMetrics(ctx context.Context, snapshot any) error
}

// Report probes portal latency and broadcasts snapshots every minute
// until ctx is cancelled.
func (c *Collector) Report(ctx context.Context, fabric metricsPublisher, probeURL string) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeLatency(ctx, probeURL)
			snap := c.Snapshot()
			if err := fabric.PublishMetrics(ctx, snap); err != nil {
				c.log.Warn().Err(err).Msg("failed to publish metrics snapshot")
				continue
			}
			c.log.Debug().
				Int("success", snap.SuccessCount).
				Int("failed", snap.FailedCount).
				Int("retried", snap.RetriedCount).
				Float64("avg_latency", snap.AvgLatency).
				Msg("metrics snapshot published")
		}
	}
}

func (c *Collector) probeLatency(ctx context.Context, probeURL string) {
	if probeURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return
	}
	start := c.now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("latency probe failed")
		return
	}
	defer resp.Body.Close()
	c.RecordLatency(c.now().Sub(start))
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Msg("latency probe returned non-200")
	}
}
