// Package collector gathers performance samples from observation sources,
// batches them and transmits them to a vitalsd ingestion endpoint. Failed
// transmissions are parked in a bounded on-disk spool and retried when
// connectivity returns. No operation ever blocks a caller, and transport
// errors never surface beyond a diagnostic log.
package collector

import (
	"sync"
	"time"

	"github.com/nu7hatch/gouuid"
	"github.com/webperf/vitals-tools/formats/vitals"
	"github.com/webperf/vitals-tools/logging"
	"github.com/webperf/vitals-tools/util"
)

type Opts struct {
	Endpoint      string        // vitalsd base url
	SessionID     string        // generated when empty
	FlushInterval time.Duration // default 10s
	RetryInterval time.Duration // how often to probe for restored connectivity, default 30s
	MaxBatchSize  int           // flush early when the buffer reaches this size, default 50
	Timeout       time.Duration // http timeout, default 5s
	SpoolPath     string        // empty keeps the spool in memory
	SpoolLimit    int           // maximum number of spooled batches, default 20
	Compression   byte          // spool file compression, default snappy
}

func (o *Opts) fillDefaults() {
	if o.FlushInterval == 0 {
		o.FlushInterval = 10 * time.Second
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = 50
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	if o.SpoolLimit == 0 {
		o.SpoolLimit = 20
	}
	if o.Compression == util.NoCompression {
		o.Compression = util.SnappyCompression
	}
}

// Collector runs a single background go routine that owns the sample
// buffer. Sources feed it through a buffered channel, so observation
// callbacks return immediately.
type Collector struct {
	opts          Opts
	session       string
	client        *Client
	spool         *Spool
	samples       chan vitals.Metric
	flushRequests chan chan struct{}
	stop          chan struct{}
	stopOnce      sync.Once
	stopped       chan struct{}
}

// New creates a collector and starts its transmission loop.
func New(opts Opts) (*Collector, error) {
	opts.fillDefaults()
	session := opts.SessionID
	if session == "" {
		uid, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		session = uid.String()
	}
	client, err := NewClient(opts.Endpoint, opts.Timeout)
	if err != nil {
		return nil, err
	}
	spool, err := OpenSpool(opts.SpoolPath, opts.SpoolLimit, opts.Compression)
	if err != nil {
		return nil, err
	}
	c := &Collector{
		opts:          opts,
		session:       session,
		client:        client,
		spool:         spool,
		samples:       make(chan vitals.Metric, 1000),
		flushRequests: make(chan chan struct{}),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// SessionID returns the session correlation key of this collector.
func (c *Collector) SessionID() string {
	return c.session
}

// SpoolLen returns the number of batches awaiting retry.
func (c *Collector) SpoolLen() int {
	return c.spool.Len()
}

// Observe records a sample. It never blocks: when the buffer is congested
// the sample is dropped with a diagnostic log.
func (c *Collector) Observe(m vitals.Metric) {
	if m.Timestamp == 0 {
		m.Timestamp = util.CurrentTimeMillis()
	}
	select {
	case c.samples <- m:
	default:
		logging.Warn("sample buffer congested, dropped %s sample", m.Name)
	}
}

// AddSource forwards all samples from ch until it is closed. The browser
// observation channels are opaque to the collector; anything producing
// metrics can act as a source.
func (c *Collector) AddSource(ch <-chan vitals.Metric) {
	go func() {
		for m := range ch {
			c.Observe(m)
		}
	}()
}

// Flush transmits the current buffer and waits for the attempt to finish.
func (c *Collector) Flush() {
	done := make(chan struct{})
	select {
	case c.flushRequests <- done:
		<-done
	case <-c.stopped:
	}
}

// Stop flushes and shuts the transmission loop down.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.stopped
}

func (c *Collector) run() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()
	retryTicker := time.NewTicker(c.opts.RetryInterval)
	defer retryTicker.Stop()
	buf := []vitals.Metric{}
	for {
		select {
		case m := <-c.samples:
			buf = append(buf, m)
			if len(buf) >= c.opts.MaxBatchSize {
				buf = c.transmit(buf)
			}
		case <-ticker.C:
			buf = c.transmit(c.drainPending(buf))
		case done := <-c.flushRequests:
			buf = c.transmit(c.drainPending(buf))
			close(done)
		case <-retryTicker.C:
			if c.spool.Len() > 0 && c.client.Ping() == nil {
				c.drainSpool()
			}
		case <-c.stop:
			c.transmit(c.drainPending(buf))
			return
		}
	}
}

// drainPending moves samples already queued by sources into the buffer, so
// that an explicit flush cannot race past them.
func (c *Collector) drainPending(buf []vitals.Metric) []vitals.Metric {
	for {
		select {
		case m := <-c.samples:
			buf = append(buf, m)
		default:
			return buf
		}
	}
}

// transmit sends the buffered samples as one batch. On failure the batch
// goes to the spool; on success any spooled batches are retried as well.
func (c *Collector) transmit(buf []vitals.Metric) []vitals.Metric {
	if len(buf) == 0 {
		return buf
	}
	metrics := make([]vitals.Metric, len(buf))
	copy(metrics, buf)
	batch := &vitals.Batch{
		Metrics:   metrics,
		SessionID: c.session,
		Timestamp: util.CurrentTimeMillis(),
	}
	if err := c.client.SendBatch(batch); err != nil {
		logging.Warn("could not transmit batch of %d metrics, spooling: %s", len(metrics), err)
		c.spool.Enqueue(batch)
	} else {
		logging.Debug("transmitted batch of %d metrics", len(metrics))
		if c.spool.Len() > 0 {
			c.drainSpool()
		}
	}
	return buf[:0]
}

// drainSpool resends spooled batches oldest first. The first failure puts
// the remainder back, to be retried on the next occasion.
func (c *Collector) drainSpool() {
	batches := c.spool.DrainAll()
	for i, batch := range batches {
		if err := c.client.SendBatch(batch); err != nil {
			logging.Warn("resending spooled batch failed, keeping %d batch(es): %s", len(batches)-i, err)
			for _, b := range batches[i:] {
				c.spool.Enqueue(b)
			}
			return
		}
	}
	if len(batches) > 0 {
		logging.Info("resent %d spooled batch(es)", len(batches))
	}
}
