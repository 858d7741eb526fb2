package metricshub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, s Snapshot) []byte {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestIngestAndList(t *testing.T) {
	now := time.Now()
	h := newHub(DefaultTTL, func() time.Time { return now })

	require.NoError(t, h.Ingest(encode(t, Snapshot{FetcherID: "fetcher-2", SuccessCount: 3})))
	require.NoError(t, h.Ingest(encode(t, Snapshot{FetcherID: "fetcher-1", SuccessCount: 7})))

	snaps := h.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "fetcher-1", snaps[0].FetcherID)
	assert.Equal(t, "fetcher-2", snaps[1].FetcherID)
}

func TestIngestReplacesPrevious(t *testing.T) {
	now := time.Now()
	h := newHub(DefaultTTL, func() time.Time { return now })

	h.Ingest(encode(t, Snapshot{FetcherID: "fetcher-1", SuccessCount: 1}))
	h.Ingest(encode(t, Snapshot{FetcherID: "fetcher-1", SuccessCount: 2}))

	snaps := h.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].SuccessCount)
}

func TestSnapshotsExpire(t *testing.T) {
	now := time.Now()
	h := newHub(DefaultTTL, func() time.Time { return now })

	h.Ingest(encode(t, Snapshot{FetcherID: "fetcher-1"}))
	now = now.Add(DefaultTTL + time.Second)
	h.Ingest(encode(t, Snapshot{FetcherID: "fetcher-2"}))

	snaps := h.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "fetcher-2", snaps[0].FetcherID)
	assert.Equal(t, 1, h.Len())
}

func TestIngestRejectsGarbage(t *testing.T) {
	h := New(DefaultTTL)
	assert.Error(t, h.Ingest([]byte("not json")))
	assert.NoError(t, h.Ingest(encode(t, Snapshot{})), "missing id is dropped, not an error")
	assert.Equal(t, 0, h.Len())
}
