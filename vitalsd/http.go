package main

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/webperf/vitals-tools/logging"
	"github.com/webperf/vitals-tools/vitalsd/ingest"
	"github.com/webperf/vitals-tools/vitalsd/live"
	"github.com/webperf/vitals-tools/vitalsd/query"
	"github.com/webperf/vitals-tools/vitalsd/stats"
	"gopkg.in/tylerb/graceful.v1"
)

func buildRouter(in *ingest.Handler, q *query.Handler, hub *live.Hub) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/vitals/metrics", in.ServeMetrics).Methods("POST")
	r.HandleFunc("/vitals/alerts", in.ServeAlert).Methods("POST")
	r.HandleFunc("/vitals/beacon.gif", in.ServeBeacon).Methods("GET")
	r.HandleFunc("/vitals/stats", q.ServeStats).Methods("GET")
	r.HandleFunc("/vitals/alerts", q.ServeAlerts).Methods("GET")
	r.HandleFunc("/vitals/live", hub.Serve).Methods("GET")
	r.HandleFunc("/health", q.ServeHealth).Methods("GET")
	r.Handle("/metrics", in.MetricsHandler()).Methods("GET")
	r.HandleFunc("/alive.txt", serveAlive)
	return r
}

func serveAlive(w http.ResponseWriter, r *http.Request) {
	defer stats.RecordRequestStats(r)
	w.Header().Set("Cache-Control", "private")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(200)
	io.WriteString(w, "ALIVE\n")
}

func webServer(in *ingest.Handler, q *query.Handler, hub *live.Hub) {
	logging.Info("starting http server on port %d", opts.InputPort)
	spec := ":" + strconv.Itoa(opts.InputPort)
	srv := &graceful.Server{
		Timeout: 10 * time.Second,
		Server: &http.Server{
			Addr:    spec,
			Handler: buildRouter(in, q, hub),
		},
	}
	if opts.KeyFile != "" && opts.CertFile != "" {
		err := srv.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		if err != nil {
			logging.Error("Cannot listen and serve TLS: %s", err)
		}
	} else if opts.KeyFile != "" {
		logging.Error("cert-file given but no key-file!")
	} else if opts.CertFile != "" {
		logging.Error("key-file given but no cert-file!")
	} else {
		err := srv.ListenAndServe()
		if err != nil {
			logging.Error("Cannot listen and serve: %s", err)
		}
	}
}
