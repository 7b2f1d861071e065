// Package ingest implements the write side of vitalsd: metric batches and
// alerts posted by browser collectors, plus a GET image beacon fallback.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-playground/form/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/nu7hatch/gouuid"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/logging"
	"github.com/webperf/vitals-tools/publisher"
	"github.com/webperf/vitals-tools/store"
	"github.com/webperf/vitals-tools/util"
	"github.com/webperf/vitals-tools/vitalsd/stats"
	"github.com/xojoc/useragent"
	"golang.org/x/text/runes"
)

type Opts struct {
	Verbose bool
	Debug   bool
}

// Handler bundles the collaborators of the ingestion endpoints. The store
// is injected; there is no package level state besides request counters.
type Handler struct {
	store       *store.Store
	publisher   *publisher.Publisher
	limiter     *Limiter
	broadcast   func(vitals.Alert)
	opts        Opts
	telemetry   *telemetry
	formDecoder *form.Decoder
}

// New creates an ingestion handler. publisher may be nil (no fan-out) and
// broadcast may be nil (no live alert stream).
func New(st *store.Store, pub *publisher.Publisher, limiter *Limiter, broadcast func(vitals.Alert), opts Opts) *Handler {
	return &Handler{
		store:       st,
		publisher:   pub,
		limiter:     limiter,
		broadcast:   broadcast,
		opts:        opts,
		telemetry:   newTelemetry(),
		formDecoder: form.NewDecoder(),
	}
}

// MetricsHandler exposes the daemon's own prometheus metrics.
func (h *Handler) MetricsHandler() http.Handler {
	return h.telemetry.requestHandler
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

func writeValidationError(w http.ResponseWriter, msg string, details error) {
	stats.IncrementFailures()
	body := map[string]interface{}{"error": msg}
	if details != nil {
		body["details"] = details.Error()
	}
	writeJSON(w, 400, body)
}

func (h *Handler) throttled(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter.Allow(clientIP(r)) {
		return false
	}
	stats.IncrementThrottled()
	h.telemetry.requestsThrottled.Inc()
	writeJSON(w, 429, map[string]interface{}{
		"error": "rate limit exceeded, retry in a minute",
	})
	return true
}

// readBody reads the request body, replacing ill-formed utf8 so that json
// decoding cannot choke on stray bytes from broken beacons.
func readBody(r *http.Request) ([]byte, error) {
	body, err := ioutil.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		body = runes.ReplaceIllFormed().Bytes(body)
		logging.Warn("replaced invalid utf8 in request body")
	}
	return body, nil
}

// ServeMetrics accepts a metric batch. Validation is all-or-nothing: one
// bad element rejects the whole batch without touching the store.
func (h *Handler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	if h.throttled(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeValidationError(w, "could not read request body", err)
		return
	}
	batch := &vitals.Batch{}
	if err := json.Unmarshal(body, batch); err != nil {
		h.telemetry.batchesRejected.Inc()
		writeValidationError(w, "request body is not a valid metrics batch", err)
		return
	}
	if h.opts.Debug {
		logging.Debug("received batch\n%s", spew.Sdump(batch))
	}
	if err := batch.Validate(); err != nil {
		h.telemetry.batchesRejected.Inc()
		writeValidationError(w, "invalid metrics batch", err)
		return
	}
	for _, m := range batch.Metrics {
		m.SessionID = batch.SessionID
		m.Timestamp = batch.Timestamp
		h.store.AddMetric(m)
	}
	h.telemetry.metricsIngested.Add(float64(len(batch.Metrics)))
	h.telemetry.batchSize.Observe(float64(len(batch.Metrics)))
	if poor := batch.FirstPoor(); poor != nil {
		logging.Warn("poor web vital in batch: %s=%.2f (session %s, url %s)", poor.Name, poor.Value, batch.SessionID, poor.URL)
	}
	h.publisher.Publish(vitals.RoutingKeyPrefix+"."+vitals.RoutingKeyMetrics, body)
	writeJSON(w, 200, map[string]interface{}{
		"success":   true,
		"received":  len(batch.Metrics),
		"timestamp": util.CurrentTimeMillis(),
	})
}

var requiredAlertFields = []string{"type", "metric", "value", "threshold"}

// ServeAlert accepts a single alert record, assigns it an id and a server
// side receive timestamp and stores it.
func (h *Handler) ServeAlert(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	if h.throttled(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeValidationError(w, "could not read request body", err)
		return
	}
	raw := make(map[string]interface{})
	if err := json.Unmarshal(body, &raw); err != nil {
		writeValidationError(w, "request body is not valid JSON", err)
		return
	}
	errs := []string{}
	for _, field := range requiredAlertFields {
		if _, ok := raw[field]; !ok {
			errs = append(errs, fmt.Sprintf("missing field: %s", field))
		}
	}
	if len(errs) > 0 {
		stats.IncrementFailures()
		writeJSON(w, 400, map[string]interface{}{"errors": errs})
		return
	}
	alert := vitals.Alert{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &alert,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		writeJSON(w, 500, map[string]interface{}{"error": "internal error"})
		return
	}
	if err := decoder.Decode(raw); err != nil {
		writeValidationError(w, "invalid alert payload", err)
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		writeJSON(w, 500, map[string]interface{}{"error": "could not generate alert id"})
		return
	}
	alert.ID = id.String()
	alert.ReceivedAt = nowFunc().Format(time.RFC3339)
	if alert.UserAgent == "" {
		alert.UserAgent = r.Header.Get("User-Agent")
	}
	if alert.Timestamp == 0 {
		alert.Timestamp = util.CurrentTimeMillis()
	}
	h.store.AddAlert(alert)
	h.telemetry.alertsIngested.Inc()
	browser := "unknown browser"
	if ua := useragent.Parse(alert.UserAgent); ua != nil {
		browser = ua.Name + " on " + ua.OS
	}
	if h.opts.Verbose {
		logging.Info("alert %s: %s %s=%.2f over %.2f (%s)", alert.ID, alert.Type, alert.Metric, alert.Value, alert.Threshold, browser)
	}
	if data, err := json.Marshal(alert); err == nil {
		h.publisher.Publish(vitals.RoutingKeyPrefix+"."+vitals.RoutingKeyAlerts, data)
	}
	if h.broadcast != nil {
		h.broadcast(alert)
	}
	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"message": "alert received",
		"alertId": alert.ID,
	})
}

// ServeBeacon accepts a single metric encoded as query parameters and
// responds with a 1x1 gif. It exists for clients that cannot POST during
// page teardown.
func (h *Handler) ServeBeacon(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	if h.throttled(w, r) {
		return
	}
	metric := vitals.Metric{}
	if err := h.formDecoder.Decode(&metric, r.URL.Query()); err != nil {
		writeValidationError(w, "could not decode beacon parameters", err)
		return
	}
	if metric.SessionID == "" {
		writeValidationError(w, "beacon has no sessionId", nil)
		return
	}
	if err := metric.Validate(); err != nil {
		writeValidationError(w, "invalid beacon metric", err)
		return
	}
	if metric.Timestamp == 0 {
		metric.Timestamp = util.CurrentTimeMillis()
	}
	h.store.AddMetric(metric)
	h.telemetry.metricsIngested.Inc()
	if metric.Rating == vitals.RatingPoor {
		logging.Warn("poor web vital via beacon: %s=%.2f (session %s, url %s)", metric.Name, metric.Value, metric.SessionID, metric.URL)
	}
	writeImageResponse(w)
}

func writeImageResponse(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "private")
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Content-Transfer-Encoding", "base64")
	w.WriteHeader(200)
	io.WriteString(w, "R0lGODlhAQABAIAAAP///wAAACH5BAEAAAAALAAAAAABAAEAAAICRAEAOw==")
}
