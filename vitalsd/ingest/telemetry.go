package ingest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// telemetry holds the daemon's own prometheus metrics.
type telemetry struct {
	registry       *prometheus.Registry
	requestHandler http.Handler

	metricsIngested   prometheus.Counter
	alertsIngested    prometheus.Counter
	batchesRejected   prometheus.Counter
	requestsThrottled prometheus.Counter
	batchSize         prometheus.Histogram
}

func newTelemetry() *telemetry {
	r := prometheus.NewRegistry()
	t := &telemetry{
		registry:       r,
		requestHandler: promhttp.HandlerFor(r, promhttp.HandlerOpts{}),
		metricsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vitalsd_metrics_ingested_total",
				Help: "Number of metric records accepted into the store.",
			}),
		alertsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vitalsd_alerts_ingested_total",
				Help: "Number of alert records accepted into the store.",
			}),
		batchesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vitalsd_batches_rejected_total",
				Help: "Number of metric batches rejected by validation.",
			}),
		requestsThrottled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vitalsd_requests_throttled_total",
				Help: "Number of ingestion requests rejected by the rate limiter.",
			}),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vitalsd_batch_size",
				Help:    "A histogram of the number of metrics per accepted batch.",
				Buckets: prometheus.LinearBuckets(1, 5, 10),
			}),
	}
	r.MustRegister(t.metricsIngested)
	r.MustRegister(t.alertsIngested)
	r.MustRegister(t.batchesRejected)
	r.MustRegister(t.requestsThrottled)
	r.MustRegister(t.batchSize)
	return t
}
