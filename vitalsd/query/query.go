// Package query implements the read side of vitalsd: windowed metric
// statistics, alert listings and the health endpoint.
package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ShowMax/go-fqdn"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/percentile"
	"github.com/webperf/vitals-tools/store"
	"github.com/webperf/vitals-tools/util"
	"github.com/webperf/vitals-tools/vitalsd/stats"
)

// Handler bundles the read endpoints over an injected store.
type Handler struct {
	store *store.Store
}

func New(st *store.Store) *Handler {
	return &Handler{store: st}
}

var timeRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

const defaultTimeRange = "24h"

// RatingCounts is the per rating histogram of a metric sample set.
type RatingCounts struct {
	Good             int `json:"good"`
	NeedsImprovement int `json:"needs-improvement"`
	Poor             int `json:"poor"`
}

// MetricStats summarizes all samples of one metric name inside a window.
type MetricStats struct {
	Count   int          `json:"count"`
	Min     float64      `json:"min"`
	Max     float64      `json:"max"`
	Avg     float64      `json:"avg"`
	P50     float64      `json:"p50"`
	P75     float64      `json:"p75"`
	P90     float64      `json:"p90"`
	P95     float64      `json:"p95"`
	P99     float64      `json:"p99"`
	Ratings RatingCounts `json:"ratings"`
}

func computeStats(samples []vitals.Metric) *MetricStats {
	if len(samples) == 0 {
		return nil
	}
	s := &MetricStats{Count: len(samples)}
	values := make([]float64, len(samples))
	var sum float64
	s.Min = samples[0].Value
	s.Max = samples[0].Value
	for i := range samples {
		v := samples[i].Value
		values[i] = v
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		switch samples[i].Rating {
		case vitals.RatingGood:
			s.Ratings.Good++
		case vitals.RatingNeedsImprovement:
			s.Ratings.NeedsImprovement++
		case vitals.RatingPoor:
			s.Ratings.Poor++
		}
	}
	s.Avg = sum / float64(len(samples))
	s.P50 = percentile.Percentile(values, 50)
	s.P75 = percentile.Percentile(values, 75)
	s.P90 = percentile.Percentile(values, 90)
	s.P95 = percentile.Percentile(values, 95)
	s.P99 = percentile.Percentile(values, 99)
	return s
}

var nowFunc = time.Now

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// ServeStats answers /vitals/stats. With a metric parameter it returns the
// full stats object for that metric or 404 when the window holds no
// samples. Without one it returns stats for every core vitals signal that
// has samples, plus the overall store summary.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	rangeToken := r.URL.Query().Get("timeRange")
	if rangeToken == "" {
		rangeToken = defaultTimeRange
	}
	window, ok := timeRanges[rangeToken]
	if !ok {
		stats.IncrementFailures()
		writeJSON(w, 400, map[string]interface{}{"error": "unknown timeRange, use one of 1h, 24h, 7d, 30d"})
		return
	}
	since := nowFunc().Add(-window).UnixNano() / int64(time.Millisecond)
	metricName := r.URL.Query().Get("metric")
	if metricName != "" {
		s := computeStats(h.store.QueryMetrics(&store.MetricFilter{Name: metricName, StartTime: since}))
		if s == nil {
			writeJSON(w, 404, map[string]interface{}{"error": "no samples for metric " + metricName})
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"metric":    metricName,
			"timeRange": rangeToken,
			"stats":     s,
		})
		return
	}
	coreStats := make(map[string]*MetricStats)
	for _, name := range vitals.CoreVitals {
		if s := computeStats(h.store.QueryMetrics(&store.MetricFilter{Name: name, StartTime: since})); s != nil {
			coreStats[name] = s
		}
	}
	writeJSON(w, 200, map[string]interface{}{
		"timeRange": rangeToken,
		"metrics":   coreStats,
		"summary":   h.store.Summary(),
	})
}

// ServeAlerts answers /vitals/alerts, passing the query filters through to
// the store and echoing them back for client side display.
func (h *Handler) ServeAlerts(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	q := r.URL.Query()
	filter := &store.AlertFilter{
		Type:   q.Get("type"),
		Metric: q.Get("metric"),
	}
	if v := q.Get("startTime"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			stats.IncrementFailures()
			writeJSON(w, 400, map[string]interface{}{"error": "startTime is not a number"})
			return
		}
		filter.StartTime = ts
	}
	if v := q.Get("endTime"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			stats.IncrementFailures()
			writeJSON(w, 400, map[string]interface{}{"error": "endTime is not a number"})
			return
		}
		filter.EndTime = ts
	}
	alerts := h.store.QueryAlerts(filter)
	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"alerts":  alerts,
		"total":   len(alerts),
		"filters": map[string]interface{}{
			"startTime": filter.StartTime,
			"endTime":   filter.EndTime,
			"type":      filter.Type,
			"metric":    filter.Metric,
		},
	})
}

// ServeHealth answers /health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	summary := h.store.Summary()
	fiveMinutesAgo := nowFunc().Add(-5*time.Minute).UnixNano() / int64(time.Millisecond)
	writeJSON(w, 200, map[string]interface{}{
		"status":         "ok",
		"timestamp":      util.CurrentTimeMillis(),
		"recentMetrics":  h.store.MetricCountSince(fiveMinutesAgo),
		"totalMetrics":   summary.TotalMetrics,
		"uniqueSessions": summary.UniqueSessions,
		"uptime":         int64(h.store.Uptime().Seconds()),
		"hostname":       fqdn.Get(),
	})
}
