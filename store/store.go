// Package store keeps the most recent metric and alert records in memory.
// Both collections are bounded: inserting beyond capacity drops the oldest
// entries. There is no other eviction and no persistence, a restart starts
// empty.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/webperf/vitals-tools/formats/vitals"
)

const (
	DefaultMetricCapacity = 10000
	DefaultAlertCapacity  = 1000
)

// Store is safe for concurrent use. Every public operation runs under one
// mutex scoped to the store instance; none of them can fail.
type Store struct {
	mutex      sync.Mutex
	metrics    []vitals.Metric
	alerts     []vitals.Alert
	maxMetrics int
	maxAlerts  int
	startedAt  time.Time
}

// New creates a store with the default capacities.
func New() *Store {
	return NewWithCapacity(DefaultMetricCapacity, DefaultAlertCapacity)
}

// NewWithCapacity creates a store holding at most maxMetrics metric records
// and maxAlerts alert records.
func NewWithCapacity(maxMetrics, maxAlerts int) *Store {
	return &Store{
		metrics:    make([]vitals.Metric, 0, maxMetrics),
		alerts:     make([]vitals.Alert, 0, maxAlerts),
		maxMetrics: maxMetrics,
		maxAlerts:  maxAlerts,
		startedAt:  time.Now(),
	}
}

// AddMetric appends a metric record, evicting the oldest records when the
// collection exceeds its capacity. Validation is the ingestion layer's job.
func (s *Store) AddMetric(m vitals.Metric) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.metrics = append(s.metrics, m)
	if n := len(s.metrics); n > s.maxMetrics {
		s.metrics = append(s.metrics[:0], s.metrics[n-s.maxMetrics:]...)
	}
}

// AddAlert appends an alert record, evicting oldest beyond capacity.
func (s *Store) AddAlert(a vitals.Alert) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.alerts = append(s.alerts, a)
	if n := len(s.alerts); n > s.maxAlerts {
		s.alerts = append(s.alerts[:0], s.alerts[n-s.maxAlerts:]...)
	}
}

// MetricFilter restricts QueryMetrics results. Zero valued fields do not
// filter; set fields are combined with AND semantics.
type MetricFilter struct {
	StartTime int64
	EndTime   int64
	Name      string
	URL       string
	SessionID string
}

func (f *MetricFilter) matches(m *vitals.Metric) bool {
	if f == nil {
		return true
	}
	if f.StartTime != 0 && m.Timestamp < f.StartTime {
		return false
	}
	if f.EndTime != 0 && m.Timestamp > f.EndTime {
		return false
	}
	if f.Name != "" && m.Name != f.Name {
		return false
	}
	if f.URL != "" && m.URL != f.URL {
		return false
	}
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	return true
}

// QueryMetrics returns all matching metric records in insertion order.
func (s *Store) QueryMetrics(f *MetricFilter) []vitals.Metric {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result := []vitals.Metric{}
	for i := range s.metrics {
		if f.matches(&s.metrics[i]) {
			result = append(result, s.metrics[i])
		}
	}
	return result
}

// AlertFilter restricts QueryAlerts results, AND semantics like MetricFilter.
type AlertFilter struct {
	StartTime int64
	EndTime   int64
	Type      string
	Metric    string
}

func (f *AlertFilter) matches(a *vitals.Alert) bool {
	if f == nil {
		return true
	}
	if f.StartTime != 0 && a.Timestamp < f.StartTime {
		return false
	}
	if f.EndTime != 0 && a.Timestamp > f.EndTime {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Metric != "" && a.Metric != f.Metric {
		return false
	}
	return true
}

// QueryAlerts returns all matching alert records, most recent first. Note
// the ordering differs from QueryMetrics; the alert dashboard depends on it.
func (s *Store) QueryAlerts(f *AlertFilter) []vitals.Alert {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result := []vitals.Alert{}
	for i := range s.alerts {
		if f.matches(&s.alerts[i]) {
			result = append(result, s.alerts[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	return result
}

// SummaryStats aggregates the whole metric collection.
type SummaryStats struct {
	TotalMetrics   int     `json:"totalMetrics"`
	UniqueSessions int     `json:"uniqueSessions"`
	AvgLCP         float64 `json:"avgLCP"`
	AvgFID         float64 `json:"avgFID"`
	AvgCLS         float64 `json:"avgCLS"`
	AvgFCP         float64 `json:"avgFCP"`
	AvgTTFB        float64 `json:"avgTTFB"`
}

// Summary computes totals, distinct session count and the mean value of
// each core vitals signal. Absent signals average as 0.
func (s *Store) Summary() SummaryStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sessions := make(map[string]bool)
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i := range s.metrics {
		m := &s.metrics[i]
		sessions[m.SessionID] = true
		sums[m.Name] += m.Value
		counts[m.Name]++
	}
	avg := func(name string) float64 {
		if counts[name] == 0 {
			return 0
		}
		return sums[name] / float64(counts[name])
	}
	return SummaryStats{
		TotalMetrics:   len(s.metrics),
		UniqueSessions: len(sessions),
		AvgLCP:         avg("LCP"),
		AvgFID:         avg("FID"),
		AvgCLS:         avg("CLS"),
		AvgFCP:         avg("FCP"),
		AvgTTFB:        avg("TTFB"),
	}
}

// MetricCountSince returns the number of metric records with a timestamp at
// or after since. Used by the health endpoint.
func (s *Store) MetricCountSince(since int64) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	count := 0
	for i := range s.metrics {
		if s.metrics[i].Timestamp >= since {
			count++
		}
	}
	return count
}

// Uptime returns the time elapsed since the store was created.
func (s *Store) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Clear empties both collections.
func (s *Store) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.metrics = s.metrics[:0]
	s.alerts = s.alerts[:0]
}
