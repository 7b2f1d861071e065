// Package publisher fans accepted vitals payloads out to downstream
// consumers on a ZeroMQ PUB socket. Running it is optional; vitalsd only
// creates a publisher when an output port is configured.
package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShowMax/go-fqdn"
	"github.com/webperf/vitals-tools/logging"
	"github.com/webperf/vitals-tools/util"

	zmq "github.com/pebbe/zmq4"
)

const (
	// HeartbeatInterval is the number of seconds between heartbeats.
	HeartbeatInterval = 5
	// DefaultStream tags published messages when no stream name is given.
	DefaultStream = "web-vitals"
)

type Opts struct {
	Compression        byte
	DeviceId           uint32
	OutputPort         uint
	OutputSpec         string
	SendHwm            int
	Stream             string
	SuppressHeartbeats bool // only used for testing
}

// Publisher owns the PUB socket. Zeromq sockets are not thread safe, so all
// sends happen on a dedicated go routine fed by a buffered channel.
type Publisher struct {
	opts            Opts
	publishChannel  chan *pubMsg
	sequenceNum     uint64
	publisherSocket *zmq.Socket
}

type pubMsg struct {
	stream      string
	routingKey  string
	data        []byte
	compression byte
}

// New creates a publisher and starts its send loop. The wait group is
// released when the loop has shut down and closed the socket.
func New(wg *sync.WaitGroup, opts Opts) *Publisher {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	p := Publisher{opts: opts}
	p.publishChannel = make(chan *pubMsg, 10000)
	p.publisherSocket = p.setupPublisherSocket()
	go p.run(wg)
	return &p
}

func (p *Publisher) nextSequenceNumber() uint64 {
	p.sequenceNum++
	return p.sequenceNum
}

func (p *Publisher) sendMessage(msg *pubMsg) {
	socket := p.publisherSocket
	socket.SendBytes([]byte(msg.stream), zmq.SNDMORE)
	socket.SendBytes([]byte(msg.routingKey), zmq.SNDMORE)
	socket.SendBytes(msg.data, zmq.SNDMORE)
	meta := util.PackInfo(p.nextSequenceNumber(), p.opts.DeviceId, msg.compression)
	socket.SendBytes(meta, 0)
}

func (p *Publisher) pubSocketSpecForConnecting() string {
	return fmt.Sprintf("tcp://%s:%d", fqdn.Get(), p.opts.OutputPort)
}

func (p *Publisher) sendHeartbeat() {
	if p.opts.SuppressHeartbeats {
		return
	}
	socket := p.publisherSocket
	socket.SendBytes([]byte("heartbeat"), zmq.SNDMORE)
	socket.SendBytes([]byte(p.pubSocketSpecForConnecting()), zmq.SNDMORE)
	socket.SendBytes([]byte("{}"), zmq.SNDMORE)
	meta := util.PackInfo(p.nextSequenceNumber(), p.opts.DeviceId, util.NoCompression)
	socket.SendBytes(meta, 0)
}

func (p *Publisher) run(wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var ticks uint64
	for !util.Interrupted() {
		select {
		case msg := <-p.publishChannel:
			p.sendMessage(msg)
		case <-ticker.C:
			ticks++
			if ticks%(HeartbeatInterval*10) == 0 {
				p.sendHeartbeat()
			}
		}
	}
	err := p.publisherSocket.Close()
	if err != nil {
		logging.Error("could not close publisher socket on shut down: %s", err)
	}
}

func (p *Publisher) setupPublisherSocket() *zmq.Socket {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		logging.Fatal("could not create publisher socket: %s", err)
	}
	socket.SetLinger(1000)
	socket.SetSndhwm(p.opts.SendHwm)
	socket.Bind(p.opts.OutputSpec)
	return socket
}

// Publish hands data to the send loop, compressing it first when the
// configured method actually shrinks the payload. A nil publisher is a
// no-op, so callers need not guard the optional fan-out.
func (p *Publisher) Publish(routingKey string, data []byte) {
	if p == nil {
		return
	}
	usedCompression := byte(util.NoCompression)
	switch p.opts.Compression {
	case util.SnappyCompression, util.ZlibCompression, util.LZ4Compression:
		compressed, err := util.Compress(data, p.opts.Compression)
		if err == nil && len(compressed) < len(data) {
			data = compressed
			usedCompression = p.opts.Compression
		}
	}
	p.publishChannel <- &pubMsg{stream: p.opts.Stream, routingKey: routingKey, data: data, compression: usedCompression}
}
