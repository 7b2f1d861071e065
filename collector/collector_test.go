package collector

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/webperf/vitals-tools/formats/vitals"
)

// fakeIngest is a vitalsd stand-in whose availability can be toggled.
type fakeIngest struct {
	mutex   sync.Mutex
	healthy bool
	batches []vitals.Batch
}

func (f *fakeIngest) setHealthy(healthy bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.healthy = healthy
}

func (f *fakeIngest) received() []vitals.Batch {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]vitals.Batch{}, f.batches...)
}

func (f *fakeIngest) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mutex.Lock()
		defer f.mutex.Unlock()
		if !f.healthy {
			w.WriteHeader(503)
			return
		}
		if r.URL.Path == "/vitals/metrics" {
			body, _ := ioutil.ReadAll(r.Body)
			batch := vitals.Batch{}
			if err := json.Unmarshal(body, &batch); err != nil {
				w.WriteHeader(400)
				return
			}
			f.batches = append(f.batches, batch)
		}
		w.WriteHeader(200)
	})
}

func sample(name string, value float64) vitals.Metric {
	return vitals.Metric{
		Name:   name,
		Value:  value,
		Rating: vitals.RateValue(name, value),
		URL:    "https://www.example.com/",
	}
}

func newTestCollector(t *testing.T, endpoint string) *Collector {
	c, err := New(Opts{
		Endpoint:      endpoint,
		SessionID:     "s-test",
		FlushInterval: time.Hour,
		RetryInterval: time.Hour,
	})
	assert.NoError(t, err)
	return c
}

func TestCollectorTransmitsBatch(t *testing.T) {
	ingest := &fakeIngest{healthy: true}
	srv := httptest.NewServer(ingest.handler())
	defer srv.Close()

	c := newTestCollector(t, srv.URL)
	defer c.Stop()
	c.Observe(sample("LCP", 1800))
	c.Observe(sample("CLS", 0.05))
	c.Flush()

	batches := ingest.received()
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0].Metrics, 2)
	assert.Equal(t, "s-test", batches[0].SessionID)
	assert.NotZero(t, batches[0].Timestamp)
	assert.Equal(t, "LCP", batches[0].Metrics[0].Name)
	assert.NotZero(t, batches[0].Metrics[0].Timestamp, "samples get a timestamp at observation time")
}

func TestCollectorSpoolsOnFailureAndResendsOnce(t *testing.T) {
	ingest := &fakeIngest{healthy: false}
	srv := httptest.NewServer(ingest.handler())
	defer srv.Close()

	c := newTestCollector(t, srv.URL)
	defer c.Stop()

	c.Observe(sample("LCP", 5000))
	c.Flush()
	assert.Len(t, ingest.received(), 0)
	assert.Equal(t, 1, c.SpoolLen(), "failed batch must be spooled")

	// connectivity returns; the next successful transmission drains the spool
	ingest.setHealthy(true)
	c.Observe(sample("FID", 20))
	c.Flush()

	batches := ingest.received()
	assert.Len(t, batches, 2, "the new batch plus exactly one retransmission")
	assert.Equal(t, 0, c.SpoolLen())
	assert.Equal(t, "FID", batches[0].Metrics[0].Name)
	assert.Equal(t, "LCP", batches[1].Metrics[0].Name)

	// a further flush must not resend anything
	c.Flush()
	assert.Len(t, ingest.received(), 2)
}

func TestCollectorRetriesViaConnectivityProbe(t *testing.T) {
	ingest := &fakeIngest{healthy: false}
	srv := httptest.NewServer(ingest.handler())
	defer srv.Close()

	c, err := New(Opts{
		Endpoint:      srv.URL,
		SessionID:     "s-test",
		FlushInterval: time.Hour,
		RetryInterval: 20 * time.Millisecond,
	})
	assert.NoError(t, err)
	defer c.Stop()

	c.Observe(sample("TTFB", 900))
	c.Flush()
	assert.Equal(t, 1, c.SpoolLen())

	ingest.setHealthy(true)
	deadline := time.Now().Add(2 * time.Second)
	for c.SpoolLen() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, c.SpoolLen(), "probe should have drained the spool")
	assert.Len(t, ingest.received(), 1)
}

func TestCollectorStopFlushes(t *testing.T) {
	ingest := &fakeIngest{healthy: true}
	srv := httptest.NewServer(ingest.handler())
	defer srv.Close()

	c := newTestCollector(t, srv.URL)
	c.Observe(sample("FCP", 1200))
	c.Stop()
	assert.Len(t, ingest.received(), 1)
}

func TestCollectorBatchSizeTriggersFlush(t *testing.T) {
	ingest := &fakeIngest{healthy: true}
	srv := httptest.NewServer(ingest.handler())
	defer srv.Close()

	c, err := New(Opts{
		Endpoint:      srv.URL,
		SessionID:     "s-test",
		FlushInterval: time.Hour,
		RetryInterval: time.Hour,
		MaxBatchSize:  3,
	})
	assert.NoError(t, err)
	defer c.Stop()

	for i := 0; i < 3; i++ {
		c.Observe(sample("LCP", 1000+float64(i)))
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(ingest.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	batches := ingest.received()
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0].Metrics, 3)
}

func TestCollectorGeneratesSessionID(t *testing.T) {
	ingest := &fakeIngest{healthy: true}
	srv := httptest.NewServer(ingest.handler())
	defer srv.Close()

	c, err := New(Opts{Endpoint: srv.URL, FlushInterval: time.Hour, RetryInterval: time.Hour})
	assert.NoError(t, err)
	defer c.Stop()
	assert.NotEmpty(t, c.SessionID())
}
