// Package serial exposes a BLE notification link as a paced virtual serial
// port.
//
// A Port owns the transmit ring, the receive ring, the flow gate, the pacing
// engine and the link adaptation monitor, and wires them to a Transport. The
// producer writes bytes in; a pump (Tick, or the Run helper) stages one chunk
// at a time and sends it when the pacing interval allows; the transport's
// event callbacks classify outcomes and feed link-parameter changes back into
// sizing and pacing.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/uutzinger/bleserial/internal/flow"
	"github.com/uutzinger/bleserial/internal/ring"
	"github.com/uutzinger/bleserial/internal/trace"
	"github.com/uutzinger/bleserial/pkg/adapt"
	"github.com/uutzinger/bleserial/pkg/link"
	"github.com/uutzinger/bleserial/pkg/pacing"
	"github.com/uutzinger/bleserial/pkg/transport"
)

// ErrBacklog is returned by Write when the flow gate is closed or the
// transmit ring cannot take the whole payload. The producer should back off
// and retry once the backlog drains below the low watermark.
var ErrBacklog = errors.New("serial: transmit backlog, write rejected")

// Options configures a Port. Zero fields get defaults.
type Options struct {
	Profile link.Profile

	// TxBufferSize and RxBufferSize are the ring capacities in bytes.
	// TxBufferSize must be a power of two.
	TxBufferSize int // default 4096
	RxBufferSize int // default 4096

	// OverwriteRx drops the oldest received bytes when the receive ring is
	// full instead of discarding the new ones.
	OverwriteRx bool

	Pacing pacing.Config
	Adapt  adapt.Config

	// TickInterval is the Run pump cadence. Tick itself can be called on
	// any cadence; shorter ticks just track the pacing interval tighter.
	TickInterval time.Duration // default 1ms

	Logger *logrus.Logger
	Clock  clock.Clock
	Trace  *trace.Recorder
}

func (o *Options) applyDefaults() {
	if o.TxBufferSize == 0 {
		o.TxBufferSize = 4096
	}
	if o.RxBufferSize == 0 {
		o.RxBufferSize = 4096
	}
	if o.TickInterval == 0 {
		o.TickInterval = time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetLevel(logrus.PanicLevel)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Port is one paced serial endpoint over one transport link.
type Port struct {
	opts Options
	log  *logrus.Logger
	clk  clock.Clock
	tr   *trace.Recorder

	tp transport.Transport

	engine     *pacing.Engine
	classifier *pacing.Classifier
	monitor    *adapt.Monitor
	gate       *flow.Gate

	mu sync.Mutex

	tx *ring.Buffer
	rx *ringbuffer.RingBuffer

	params     link.Params
	connected  bool
	subscribed bool

	staged    []byte // scratch for the frame in flight
	stagedLen int
	stagedSeq uint64 // bumped on every staging; detects restage during outcome handling
	inFlight  bool

	bytesTx uint64
	bytesRx uint64
	txDrops uint64 // bytes discarded by outcome policy
	rxDrops uint64 // received bytes lost to a full receive ring
}

// NewPort creates a port over the given transport. The caller attaches the
// port as the transport's event sink before bringing the link up.
func NewPort(tp transport.Transport, opts Options) (*Port, error) {
	opts.applyDefaults()

	tx, err := ring.New(opts.TxBufferSize)
	if err != nil {
		return nil, fmt.Errorf("transmit ring: %w", err)
	}

	p := &Port{
		opts:       opts,
		log:        opts.Logger,
		clk:        opts.Clock,
		tr:         opts.Trace,
		tp:         tp,
		classifier: pacing.NewClassifier(),
		monitor:    adapt.NewMonitor(opts.Adapt, opts.Logger, opts.Clock),
		tx:         tx,
		rx:         ringbuffer.New(opts.RxBufferSize),
		staged:     make([]byte, link.MaxAttValueBytes),
	}
	p.gate = flow.NewGate(tx.Capacity(), link.MinChunkBytes)
	p.engine = pacing.NewEngine(pacing.Options{
		Profile: opts.Profile,
		Config:  opts.Pacing,
		Logger:  opts.Logger,
		Clock:   opts.Clock,
		Trace:   opts.Trace,
		Backlog: func() (int, int) {
			return p.tx.Available(), p.gate.Low()
		},
		OnChunkChange: func(chunk int) {
			p.gate.Recompute(chunk)
		},
		RequestDisconnect: func() {
			if err := tp.RequestDisconnect(); err != nil {
				opts.Logger.WithError(err).Error("Disconnect request failed")
			}
		},
	})
	return p, nil
}

// Classifier returns the outcome classifier for per-deployment overrides.
func (p *Port) Classifier() *pacing.Classifier { return p.classifier }

// Write queues bytes for transmission. It is all-or-nothing: when the flow
// gate is closed or the ring cannot hold the whole payload it writes nothing
// and returns ErrBacklog.
func (p *Port) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if !p.gate.IsOpen() {
		return 0, ErrBacklog
	}

	p.mu.Lock()
	written, _ := p.tx.Push(b, false)
	occupancy := p.tx.Available()
	p.mu.Unlock()

	p.gate.Observe(occupancy)
	if written == 0 {
		return 0, ErrBacklog
	}
	return written, nil
}

// Read copies buffered received bytes into b. It never blocks; when nothing
// is buffered it returns 0 with a nil error.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rx.Length() == 0 {
		return 0, nil
	}
	n, err := p.rx.Read(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return n, err
	}
	return n, nil
}

// Available reports how many received bytes are buffered.
func (p *Port) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx.Length()
}

// TxPending reports how many bytes wait in the transmit ring.
func (p *Port) TxPending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Available()
}

// Flush blocks until the transmit ring is drained and no frame is in
// flight, or the context ends. It relies on the pump running elsewhere.
func (p *Port) Flush(ctx context.Context) error {
	t := p.clk.Ticker(p.opts.TickInterval)
	defer t.Stop()
	for {
		p.mu.Lock()
		done := p.tx.Available() == 0 && !p.inFlight
		p.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Clear drops all buffered bytes in both directions and the staged frame.
func (p *Port) Clear() {
	p.mu.Lock()
	p.tx.Clear()
	p.rx.Reset()
	p.stagedLen = 0
	p.inFlight = false
	occupancy := p.tx.Available()
	p.mu.Unlock()
	p.gate.Observe(occupancy)
}

// Tick runs one pump step: samples RSSI when due, and stages and sends the
// next chunk when the link and the pacing interval allow. It never blocks,
// so it is safe to call from a cooperative loop or a dedicated goroutine.
func (p *Port) Tick(now time.Time) {
	p.sampleRSSI(now)
	p.pumpTx(now)
}

func (p *Port) sampleRSSI(now time.Time) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected || !p.monitor.ShouldSample(now) {
		return
	}

	rssi, err := p.tp.ReadRSSI()
	if err != nil {
		if !errors.Is(err, transport.ErrUnsupported) {
			p.log.WithError(err).Debug("RSSI read failed")
		}
		return
	}
	target, change := p.monitor.Sample(now, rssi)
	if !change {
		return
	}
	if err := p.tp.RequestPHY(target.PHY, target.Coding); err != nil {
		if errors.Is(err, transport.ErrUnsupported) {
			return
		}
		p.log.WithError(err).Warn("PHY change request failed")
	}
}

func (p *Port) pumpTx(now time.Time) {
	p.mu.Lock()
	if !p.connected || !p.subscribed || p.inFlight {
		p.mu.Unlock()
		return
	}
	if !p.engine.ShouldSend(now) {
		p.mu.Unlock()
		return
	}
	chunk := p.engine.ChunkSize()
	n := p.tx.Peek(p.staged[:chunk])
	if n == 0 {
		p.mu.Unlock()
		return
	}
	p.stagedLen = n
	p.stagedSeq++
	p.inFlight = true
	frame := p.staged[:n]
	p.mu.Unlock()

	if !p.tp.Send(frame) {
		// Carrier refused the attempt outright; unstage and retry later.
		p.mu.Lock()
		p.inFlight = false
		p.stagedLen = 0
		p.mu.Unlock()
		return
	}
	p.engine.NoteSent(now)
}

// Run pumps the port until the context ends.
func (p *Port) Run(ctx context.Context) error {
	t := p.clk.Ticker(p.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			p.Tick(now)
		}
	}
}

// --- transport.EventSink ---

// OnSendOutcome classifies the status code for the frame in flight and
// applies the engine's disposition to the ring. Outcomes arriving with no
// frame in flight are dropped; they belong to a link that no longer exists.
//
// The frame stays owned (inFlight) until the disposition lands, so a
// concurrent Tick cannot re-peek and resend the same head bytes while the
// outcome is being classified.
func (p *Port) OnSendOutcome(code int) {
	p.mu.Lock()
	if !p.inFlight {
		p.mu.Unlock()
		return
	}
	staged := p.stagedLen
	seq := p.stagedSeq
	p.mu.Unlock()

	class := p.classifier.Classify(code)
	disp := p.engine.OnOutcome(class)

	p.mu.Lock()
	if !p.inFlight || p.stagedSeq != seq {
		// A link event dropped the staged frame mid-classification; the
		// bytes stayed at the ring head for restaging, nothing to apply.
		p.mu.Unlock()
		return
	}
	p.inFlight = false
	p.stagedLen = 0
	switch disp {
	case pacing.Consume:
		p.tx.Consume(staged)
		p.bytesTx += uint64(staged)
	case pacing.Discard:
		p.tx.Consume(staged)
		p.txDrops += uint64(staged)
		p.log.WithFields(logrus.Fields{
			"code":  code,
			"bytes": staged,
		}).Warn("Frame discarded by outcome policy")
	case pacing.Retain, pacing.Restage:
		// Bytes stay at the ring head and are re-peeked on the next tick,
		// at the current chunk size.
	}
	occupancy := p.tx.Available()
	p.mu.Unlock()

	p.gate.Observe(occupancy)
}

// OnConnect installs the negotiated parameters and opens the pump.
func (p *Port) OnConnect(params link.Params) {
	p.mu.Lock()
	p.params = params
	p.connected = true
	p.inFlight = false
	p.stagedLen = 0
	p.mu.Unlock()

	p.engine.ApplyLinkParams(params)
	p.monitor.SetNegotiated(adapt.Target{PHY: params.PHY, Coding: params.Coding})
	p.log.WithField("params", params.String()).Info("Link up")
}

// OnDisconnect parks pacing at the ceiling and clears the staged frame;
// buffered bytes survive for the next connection.
func (p *Port) OnDisconnect() {
	p.mu.Lock()
	p.connected = false
	p.subscribed = false
	p.inFlight = false
	p.stagedLen = 0
	p.params = link.DefaultParams()
	p.mu.Unlock()

	p.engine.HandleDisconnect(link.DefaultParams())
	p.monitor.Reset()
	p.log.Info("Link down")
}

func (p *Port) OnMTUChanged(mtu uint16) {
	p.mu.Lock()
	p.params.MTU = mtu
	params := p.params
	p.inFlight = false
	p.stagedLen = 0
	p.mu.Unlock()
	p.engine.ApplyLinkParams(params)
}

func (p *Port) OnPHYChanged(phy link.PHY, coding link.Coding) {
	p.mu.Lock()
	p.params.PHY = phy
	p.params.Coding = coding
	p.params.LLTimeUs = link.PDUTimeUs(p.params.LLOctets, phy, coding)
	params := p.params
	p.inFlight = false
	p.stagedLen = 0
	p.mu.Unlock()
	p.engine.ApplyLinkParams(params)
	p.monitor.SetNegotiated(adapt.Target{PHY: phy, Coding: coding})
}

func (p *Port) OnDataLengthChanged(octets uint16, timeUs uint32) {
	p.mu.Lock()
	p.params.LLOctets = octets
	p.params.LLTimeUs = timeUs
	params := p.params
	p.inFlight = false
	p.stagedLen = 0
	p.mu.Unlock()
	p.engine.ApplyLinkParams(params)
}

func (p *Port) OnSubscriptionChanged(subscribed bool) {
	p.mu.Lock()
	p.subscribed = subscribed
	p.mu.Unlock()
	p.log.WithField("subscribed", subscribed).Debug("Peer subscription changed")
}

// OnReceive buffers incoming bytes. When the ring is full the behavior
// follows Options.OverwriteRx: either the oldest buffered bytes or the
// overflow of the new ones are dropped, with drop accounting either way.
func (p *Port) OnReceive(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	free := p.rx.Free()
	if free < len(b) {
		if !p.opts.OverwriteRx {
			n, _ := p.rx.Write(b[:free])
			p.bytesRx += uint64(n)
			p.rxDrops += uint64(len(b) - n)
			return
		}
		// Make room by discarding the oldest bytes.
		drop := len(b) - free
		if drop > p.rx.Length() {
			drop = p.rx.Length()
		}
		scratch := make([]byte, drop)
		n, _ := p.rx.Read(scratch)
		p.rxDrops += uint64(n)
	}
	if free := p.rx.Free(); len(b) > free {
		// Single payload larger than the whole ring: keep the newest bytes.
		p.rxDrops += uint64(len(b) - free)
		b = b[len(b)-free:]
	}
	n, _ := p.rx.Write(b)
	p.bytesRx += uint64(n)
}

// Status is a point-in-time view of the port for diagnostics.
type Status struct {
	Connected  bool
	Subscribed bool
	Params     link.Params

	TxPending int
	RxPending int
	GateOpen  bool
	LowWater  int
	HighWater int

	BytesTx uint64
	BytesRx uint64
	TxDrops uint64
	RxDrops uint64

	RSSIAvg int
	RSSIRaw int

	Pacing pacing.Snapshot
}

// Status returns the current counters and pacing state.
func (p *Port) Status() Status {
	p.mu.Lock()
	s := Status{
		Connected:  p.connected,
		Subscribed: p.subscribed,
		Params:     p.params,
		TxPending:  p.tx.Available(),
		RxPending:  p.rx.Length(),
		BytesTx:    p.bytesTx,
		BytesRx:    p.bytesRx,
		TxDrops:    p.txDrops,
		RxDrops:    p.rxDrops,
	}
	p.mu.Unlock()

	s.GateOpen = p.gate.IsOpen()
	s.LowWater = p.gate.Low()
	s.HighWater = p.gate.High()
	s.RSSIAvg, s.RSSIRaw = p.monitor.Estimate()
	s.Pacing = p.engine.Snapshot()
	return s
}

var _ transport.EventSink = (*Port)(nil)
