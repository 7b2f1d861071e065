// Package vitals defines the wire format exchanged between the browser
// collector and vitalsd.
package vitals

import (
	"fmt"
	"net/url"
)

const RoutingKeyPrefix = "vitals"
const RoutingKeyMetrics = "metrics"
const RoutingKeyAlerts = "alert"

// Rating is the categorical judgment attached to a metric value by the
// sender, based on the fixed web vitals thresholds.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Valid reports whether r is one of the three known ratings.
func (r Rating) Valid() bool {
	return r == RatingGood || r == RatingNeedsImprovement || r == RatingPoor
}

// CoreVitals lists the well known core web vitals signal names.
var CoreVitals = []string{"LCP", "FID", "CLS", "FCP", "TTFB"}

// Metric represents a single measurement of a single browser timing signal.
type Metric struct {
	Name           string  `json:"name" form:"name"`
	Value          float64 `json:"value" form:"value"`
	Rating         Rating  `json:"rating" form:"rating"`
	Timestamp      int64   `json:"timestamp" form:"timestamp"`
	URL            string  `json:"url" form:"url"`
	SessionID      string  `json:"sessionId" form:"sessionId"`
	ConnectionType string  `json:"connectionType,omitempty" form:"connectionType"`
	DeviceMemory   float64 `json:"deviceMemory,omitempty" form:"deviceMemory"`
}

// Validate checks the fields every ingested metric must carry. The zero
// value of Timestamp is accepted because ingestion overrides it with the
// batch timestamp anyway.
func (m *Metric) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("metric has no name")
	}
	if !m.Rating.Valid() {
		return fmt.Errorf("metric %s has unknown rating: %q", m.Name, m.Rating)
	}
	u, err := url.Parse(m.URL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("metric %s has no absolute url: %q", m.Name, m.URL)
	}
	return nil
}

// Batch is a client submitted group of metric samples sharing one session
// and submission timestamp.
type Batch struct {
	Metrics   []Metric `json:"metrics"`
	SessionID string   `json:"sessionId"`
	Timestamp int64    `json:"timestamp"`
}

// Validate checks the batch envelope and every contained metric. A batch
// with a single invalid element is rejected as a whole.
func (b *Batch) Validate() error {
	if len(b.Metrics) == 0 {
		return fmt.Errorf("batch contains no metrics")
	}
	if b.SessionID == "" {
		return fmt.Errorf("batch has no session id")
	}
	if b.Timestamp <= 0 {
		return fmt.Errorf("batch has no timestamp")
	}
	for i := range b.Metrics {
		if err := b.Metrics[i].Validate(); err != nil {
			return fmt.Errorf("metric %d invalid: %s", i, err)
		}
	}
	return nil
}

// FirstPoor returns the first poor rated metric of the batch, if any.
func (b *Batch) FirstPoor() *Metric {
	for i := range b.Metrics {
		if b.Metrics[i].Rating == RatingPoor {
			return &b.Metrics[i]
		}
	}
	return nil
}

// Alert is raised by the client when a metric value crosses its threshold.
// ID and ReceivedAt are assigned by the server at ingestion time.
type Alert struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
	URL        string  `json:"url,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
	UserAgent  string  `json:"userAgent,omitempty"`
	ReceivedAt string  `json:"receivedAt"`
}

// Thresholds for the sender side rating of core vitals values. The first
// value bounds "good", the second "needs-improvement"; anything above is
// "poor". CLS is a unitless score, all others are milliseconds.
var ratingThresholds = map[string][2]float64{
	"LCP":  {2500, 4000},
	"FID":  {100, 300},
	"CLS":  {0.1, 0.25},
	"FCP":  {1800, 3000},
	"TTFB": {800, 1800},
}

// RateValue computes the rating of a core vitals value the way browser
// collectors do. Unknown metric names rate as good.
func RateValue(name string, value float64) Rating {
	t, ok := ratingThresholds[name]
	if !ok {
		return RatingGood
	}
	switch {
	case value <= t[0]:
		return RatingGood
	case value <= t[1]:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}
