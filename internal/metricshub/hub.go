// Package metricshub caches the most recent metrics snapshot from each
// fetcher instance. Snapshots arrive over the transient metrics queue
// and age out after a TTL so dead fetchers disappear from the view.
package metricshub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
)

// DefaultTTL matches the broadcast period with headroom for two missed
// beats.
const DefaultTTL = 300 * time.Second

// Snapshot is one fetcher's self-reported state.
type Snapshot struct {
	FetcherID        string  `json:"fetcher_id"`
	SuccessCount     int     `json:"success_count"`
	FailedCount      int     `json:"failed_count"`
	RetriedCount     int     `json:"retried_count"`
	AvgLatency       float64 `json:"avg_latency"`
	WaitingRequests  int     `json:"waiting_requests"`
	LockedKeys       int     `json:"locked_keys"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	WindowSeconds    int     `json:"window_seconds"`
	ReportedAtUnix   int64   `json:"reported_at"`
	receivedAt       time.Time
}

// ReceivedAt is when the hub stored the snapshot, not when the fetcher
// produced it.
func (s Snapshot) ReceivedAt() time.Time { return s.receivedAt }

// Hub holds per-fetcher snapshots with lazy TTL expiry.
type Hub struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	byID    map[string]Snapshot
	log     zerolog.Logger
}

func New(ttl time.Duration) *Hub {
	return newHub(ttl, time.Now)
}

func newHub(ttl time.Duration, now func() time.Time) *Hub {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Hub{
		ttl:  ttl,
		now:  now,
		byID: make(map[string]Snapshot),
		log:  logger.Component("metricshub"),
	}
}

// Ingest decodes a metrics message body and stores the snapshot.
func (h *Hub) Ingest(body []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		h.log.Warn().Err(err).Msg("undecodable metrics snapshot dropped")
		return err
	}
	if snap.FetcherID == "" {
		h.log.Warn().Msg("metrics snapshot without fetcher id dropped")
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	snap.receivedAt = h.now()
	h.byID[snap.FetcherID] = snap
	return nil
}

// Snapshots returns the live snapshots sorted by fetcher id.
func (h *Hub) Snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-h.ttl)
	out := make([]Snapshot, 0, len(h.byID))
	for id, snap := range h.byID {
		if snap.receivedAt.Before(cutoff) {
			delete(h.byID, id)
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetcherID < out[j].FetcherID })
	return out
}

// Len reports the number of live snapshots.
func (h *Hub) Len() int {
	return len(h.Snapshots())
}
