package collector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/util"
)

func spoolBatch(session string, ts int64) *vitals.Batch {
	return &vitals.Batch{
		SessionID: session,
		Timestamp: ts,
		Metrics: []vitals.Metric{
			{Name: "LCP", Value: 1234, Rating: vitals.RatingGood, Timestamp: ts, URL: "https://www.example.com/"},
		},
	}
}

func TestSpoolRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.dat")
	s, err := OpenSpool(path, 10, util.SnappyCompression)
	assert.NoError(t, err)
	s.Enqueue(spoolBatch("s-1", 100))
	s.Enqueue(spoolBatch("s-1", 200))
	assert.Equal(t, 2, s.Len())

	// a fresh open must see the persisted batches
	reopened, err := OpenSpool(path, 10, util.SnappyCompression)
	assert.NoError(t, err)
	batches := reopened.DrainAll()
	assert.Len(t, batches, 2)
	assert.Equal(t, int64(100), batches[0].Timestamp)
	assert.Equal(t, int64(200), batches[1].Timestamp)
	assert.Equal(t, spoolBatch("s-1", 100), batches[0])
	assert.Equal(t, 0, reopened.Len())

	// and the drain must be durable too
	emptied, err := OpenSpool(path, 10, util.SnappyCompression)
	assert.NoError(t, err)
	assert.Equal(t, 0, emptied.Len())
}

func TestSpoolDropsOldestBeyondLimit(t *testing.T) {
	s, err := OpenSpool("", 2, util.SnappyCompression)
	assert.NoError(t, err)
	s.Enqueue(spoolBatch("s-1", 1))
	s.Enqueue(spoolBatch("s-1", 2))
	s.Enqueue(spoolBatch("s-1", 3))
	assert.Equal(t, 2, s.Len())
	batches := s.DrainAll()
	assert.Equal(t, int64(2), batches[0].Timestamp)
	assert.Equal(t, int64(3), batches[1].Timestamp)
}

func TestSpoolOpenWithoutFile(t *testing.T) {
	s, err := OpenSpool(filepath.Join(t.TempDir(), "missing.dat"), 10, util.NoCompression)
	assert.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestSpoolMemoryOnly(t *testing.T) {
	s, err := OpenSpool("", 10, util.NoCompression)
	assert.NoError(t, err)
	s.Enqueue(spoolBatch("s-1", 1))
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.DrainAll(), 1)
}
