// vitals-collector is a demo agent that feeds a vitalsd instance with
// synthetic page load samples. It exercises the collector library the way
// a browser integration would: observation sources push samples, the
// collector batches, transmits and spools.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/webperf/vitals-tools/collector"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/logging"
	"github.com/webperf/vitals-tools/util"
)

var opts struct {
	Verbose       bool   `short:"v" long:"verbose" description:"be verbose"`
	Endpoint      string `short:"e" long:"endpoint" env:"VITALS_ENDPOINT" default:"http://localhost:9705" description:"vitalsd base url"`
	PageURL       string `short:"u" long:"page-url" default:"https://www.example.com/" description:"page url to report samples for"`
	Interval      int    `short:"i" long:"interval" default:"2" description:"seconds between generated page loads"`
	FlushInterval int    `short:"f" long:"flush-interval" default:"10" description:"seconds between batch transmissions"`
	SpoolPath     string `short:"s" long:"spool-path" env:"VITALS_SPOOL_PATH" default:"vitals-spool.dat" description:"file backing the retry spool"`
	SpoolLimit    int    `short:"l" long:"spool-limit" default:"20" description:"maximum number of spooled batches"`
}

func initialize() {
	args, err := flags.ParseArgs(&opts, os.Args)
	if err != nil {
		e := err.(*flags.Error)
		if e.Type != flags.ErrHelp {
			fmt.Println(err)
		}
		os.Exit(1)
	}
	if len(args) > 1 {
		logging.Error("%s: arguments are ignored, please use options instead.", args[0])
		os.Exit(1)
	}
}

// pageLoad synthesizes the core vitals signals of one page load.
func pageLoad(pageURL string) []vitals.Metric {
	values := map[string]float64{
		"TTFB": 200 + rand.Float64()*1500,
		"FCP":  800 + rand.Float64()*2500,
		"LCP":  1200 + rand.Float64()*4000,
		"FID":  5 + rand.Float64()*400,
		"CLS":  rand.Float64() * 0.4,
	}
	metrics := make([]vitals.Metric, 0, len(values))
	for name, value := range values {
		metrics = append(metrics, vitals.Metric{
			Name:   name,
			Value:  value,
			Rating: vitals.RateValue(name, value),
			URL:    pageURL,
		})
	}
	return metrics
}

func main() {
	logging.Info("%s starting", os.Args[0])
	initialize()
	logging.Verbose = opts.Verbose
	util.InstallSignalHandler()

	c, err := collector.New(collector.Opts{
		Endpoint:      opts.Endpoint,
		FlushInterval: time.Duration(opts.FlushInterval) * time.Second,
		SpoolPath:     opts.SpoolPath,
		SpoolLimit:    opts.SpoolLimit,
	})
	if err != nil {
		logging.Error("could not create collector: %s", err)
		os.Exit(1)
	}
	logging.Info("session-id: %s", c.SessionID())
	logging.Info("endpoint: %s", opts.Endpoint)

	source := make(chan vitals.Metric, 100)
	c.AddSource(source)

	ticker := time.NewTicker(time.Duration(opts.Interval) * time.Second)
	defer ticker.Stop()
	for !util.Interrupted() {
		<-ticker.C
		for _, m := range pageLoad(opts.PageURL) {
			source <- m
		}
		if opts.Verbose {
			logging.Info("generated page load, %d batch(es) spooled", c.SpoolLen())
		}
	}
	close(source)
	c.Stop()
	logging.Info("shut down performed cleanly")
}
