package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/store"
	"github.com/webperf/vitals-tools/vitalsd/ingest"
	"github.com/webperf/vitals-tools/vitalsd/live"
	"github.com/webperf/vitals-tools/vitalsd/query"
)

func testRouter(st *store.Store) *mux.Router {
	in := ingest.New(st, nil, ingest.NewLimiter(0), nil, ingest.Opts{})
	return buildRouter(in, query.New(st), live.NewHub())
}

func TestRouterDispatch(t *testing.T) {
	st := store.New()
	router := testRouter(st)

	// liveness
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/alive.txt", nil))
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "ALIVE\n", w.Body.String())

	// ingestion and retrieval through the real routes
	batch := &vitals.Batch{
		SessionID: "s-1",
		Timestamp: 1720000000000,
		Metrics: []vitals.Metric{
			{Name: "LCP", Value: 1000, Rating: vitals.RatingGood, Timestamp: 1, URL: "https://www.example.com/"},
		},
	}
	body, _ := json.Marshal(batch)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/vitals/metrics", bytes.NewReader(body)))
	assert.Equal(t, 200, w.Code)
	assert.Len(t, st.QueryMetrics(nil), 1)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/vitals/alerts", nil))
	assert.Equal(t, 200, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, w.Code)
}

func TestRouterMethodRestrictions(t *testing.T) {
	router := testRouter(store.New())

	// method mismatches fall through to the not found handler
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/vitals/metrics", nil))
	assert.Equal(t, 404, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/vitals/stats", nil))
	assert.Equal(t, 404, w.Code)
}
