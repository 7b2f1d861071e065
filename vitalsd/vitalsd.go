// vitalsd ingests browser performance metrics and alerts posted by web
// clients, keeps the most recent records in a bounded in-memory store and
// serves aggregate statistics to the dashboard.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/webperf/vitals-tools/logging"
	pub "github.com/webperf/vitals-tools/publisher"
	"github.com/webperf/vitals-tools/store"
	"github.com/webperf/vitals-tools/util"
	"github.com/webperf/vitals-tools/vitalsd/ingest"
	"github.com/webperf/vitals-tools/vitalsd/live"
	"github.com/webperf/vitals-tools/vitalsd/query"
	"github.com/webperf/vitals-tools/vitalsd/stats"
)

var opts struct {
	Verbose        bool   `short:"v" long:"verbose" description:"be verbose"`
	Quiet          bool   `short:"q" long:"quiet" description:"be quiet"`
	Debug          bool   `short:"D" long:"debug" description:"dump received payloads"`
	InputPort      int    `short:"p" long:"input-port" default:"9705" description:"port number of http input socket"`
	CertFile       string `short:"c" long:"cert-file" env:"VITALS_CERT_FILE" description:"certificate file to use"`
	KeyFile        string `short:"k" long:"key-file" env:"VITALS_KEY_FILE" description:"key file to use"`
	DeviceId       uint32 `short:"d" long:"device-id" description:"device id"`
	OutputPort     uint   `short:"P" long:"output-port" description:"port number of zeromq output socket, 0 disables fan-out"`
	SendHwm        int    `short:"S" long:"snd-hwm" env:"VITALS_SND_HWM" default:"100000" description:"high water mark for zeromq output socket"`
	Compression    string `short:"x" long:"compress" description:"compression method to use for fan-out"`
	RateLimit      int    `short:"r" long:"rate-limit" default:"100" description:"ingestion requests per client per minute, 0 disables"`
	MetricCapacity int    `short:"m" long:"metric-capacity" default:"10000" description:"maximum number of metric records kept"`
	AlertCapacity  int    `short:"a" long:"alert-capacity" default:"1000" description:"maximum number of alert records kept"`
}

var (
	verbose     bool
	quiet       bool
	compression byte

	publisher *pub.Publisher
)

var wg sync.WaitGroup

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
	compression, err = util.ParseCompressionMethodName(opts.Compression)
	if err != nil {
		logging.Error("%s: unsupported compression method: %s.", args[0], opts.Compression)
		os.Exit(1)
	}
}

func main() {
	logging.Info("%s starting", os.Args[0])
	initialize()
	verbose = opts.Verbose
	quiet = opts.Quiet
	logging.Verbose = verbose

	util.InstallSignalHandler()
	go stats.Reporter(quiet)

	if opts.OutputPort != 0 {
		outputSpec := fmt.Sprintf("tcp://*:%d", opts.OutputPort)
		logging.Info("fan-out enabled, output-spec: %s", outputSpec)
		publisher = pub.New(&wg, pub.Opts{
			Compression: compression,
			DeviceId:    opts.DeviceId,
			OutputPort:  opts.OutputPort,
			OutputSpec:  outputSpec,
			SendHwm:     opts.SendHwm,
		})
	}

	st := store.NewWithCapacity(opts.MetricCapacity, opts.AlertCapacity)
	hub := live.NewHub()
	ingestHandler := ingest.New(st, publisher, ingest.NewLimiter(opts.RateLimit), hub.Broadcast, ingest.Opts{Verbose: verbose, Debug: opts.Debug})
	queryHandler := query.New(st)

	// Run web server in the foreground until interrupted.
	webServer(ingestHandler, queryHandler, hub)

	if util.WaitForWaitGroupWithTimeout(&wg, 5*time.Second) {
		if !quiet {
			logging.Info("shut down timed out")
		}
	} else {
		if !quiet {
			logging.Info("shut down performed cleanly")
		}
	}
}
