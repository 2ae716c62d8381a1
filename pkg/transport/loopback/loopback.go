// Package loopback is an in-memory transport with scriptable behavior. It
// backs the end-to-end tests and the simulate command: outcomes per send,
// link-parameter changes and received bytes are all driven from the outside.
//
// Events are never delivered from inside a Transport method. They queue up
// and reach the sink only from Step, so a caller invoking Send or RequestPHY
// under its own lock can never reenter itself.
package loopback

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/uutzinger/bleserial/pkg/link"
	"github.com/uutzinger/bleserial/pkg/transport"
)

// Transport is a simulated link. Zero value is not usable; call New.
type Transport struct {
	mu sync.Mutex

	sink transport.EventSink
	log  *logrus.Logger

	params    link.Params
	connected bool
	rssi      int

	// scripted outcome codes, consumed one per send; empty means StatusOK
	script []int

	sent    [][]byte
	pending []func(transport.EventSink)
}

// New creates a disconnected loopback link. Connect must be called before
// sends do anything useful.
func New(log *logrus.Logger) *Transport {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Transport{
		log:  log,
		rssi: -60,
	}
}

// Attach wires the event sink. Must be called before Connect.
func (t *Transport) Attach(sink transport.EventSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Send records the payload and queues the next scripted outcome for it.
func (t *Transport) Send(payload []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return false
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.sent = append(t.sent, cp)

	code := transport.StatusOK
	if len(t.script) > 0 {
		code = t.script[0]
		t.script = t.script[1:]
	}
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnSendOutcome(code)
	})
	return true
}

// LinkParameters returns the currently simulated link parameters.
func (t *Transport) LinkParameters() link.Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// ReadRSSI returns the scripted signal strength.
func (t *Transport) ReadRSSI() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return 0, transport.ErrUnsupported
	}
	return t.rssi, nil
}

// RequestPHY applies the change on the next Step, modeling the controller's
// negotiation latency, and confirms it through OnPHYChanged.
func (t *Transport) RequestPHY(phy link.PHY, coding link.Coding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return transport.ErrUnsupported
	}
	t.pending = append(t.pending, func(s transport.EventSink) {
		t.mu.Lock()
		t.params.PHY = phy
		t.params.Coding = coding
		t.params.LLTimeUs = link.PDUTimeUs(t.params.LLOctets, phy, coding)
		t.mu.Unlock()
		s.OnPHYChanged(phy, coding)
	})
	return nil
}

// RequestDisconnect queues a disconnect event.
func (t *Transport) RequestDisconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil
	}
	t.connected = false
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnDisconnect()
	})
	return nil
}

// Step delivers all queued events to the sink, in order, then returns how
// many were delivered. Tests call it after each action; the simulate command
// calls it from its pump loop.
func (t *Transport) Step() int {
	t.mu.Lock()
	events := t.pending
	t.pending = nil
	sink := t.sink
	t.mu.Unlock()

	if sink == nil {
		return 0
	}
	for _, ev := range events {
		ev(sink)
	}
	return len(events)
}

// --- script controls ---

// Connect brings the simulated link up with the given parameters and queues
// OnConnect plus a subscription event, the order a real central observes.
func (t *Transport) Connect(p link.Params) {
	t.mu.Lock()
	t.params = p
	t.connected = true
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnConnect(p)
		s.OnSubscriptionChanged(true)
	})
	t.mu.Unlock()
}

// Drop simulates link loss initiated by the other side.
func (t *Transport) Drop() {
	t.mu.Lock()
	t.connected = false
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnDisconnect()
	})
	t.mu.Unlock()
}

// ScriptOutcomes sets the status codes returned for the next sends, in
// order. Sends beyond the script succeed.
func (t *Transport) ScriptOutcomes(codes ...int) {
	t.mu.Lock()
	t.script = append(t.script, codes...)
	t.mu.Unlock()
}

// SetRSSI sets the value the next ReadRSSI returns.
func (t *Transport) SetRSSI(dbm int) {
	t.mu.Lock()
	t.rssi = dbm
	t.mu.Unlock()
}

// Inject queues bytes arriving from the simulated peer.
func (t *Transport) Inject(p []byte) {
	cp := make([]byte, len(p))
	copy(cp, p)
	t.mu.Lock()
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnReceive(cp)
	})
	t.mu.Unlock()
}

// ChangeMTU renegotiates the ATT MTU and queues the change event.
func (t *Transport) ChangeMTU(mtu uint16) {
	t.mu.Lock()
	t.params.MTU = mtu
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnMTUChanged(mtu)
	})
	t.mu.Unlock()
}

// ChangeDataLength renegotiates the link-layer payload size and queues the
// change event.
func (t *Transport) ChangeDataLength(octets uint16) {
	t.mu.Lock()
	t.params.LLOctets = octets
	t.params.LLTimeUs = link.PDUTimeUs(octets, t.params.PHY, t.params.Coding)
	timeUs := t.params.LLTimeUs
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnDataLengthChanged(octets, timeUs)
	})
	t.mu.Unlock()
}

// SetSubscribed toggles the peer's subscription state.
func (t *Transport) SetSubscribed(on bool) {
	t.mu.Lock()
	t.pending = append(t.pending, func(s transport.EventSink) {
		s.OnSubscriptionChanged(on)
	})
	t.mu.Unlock()
}

// Sent returns copies of all payloads handed to Send so far.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentBytes returns the concatenation of everything sent, for tests that
// only care about the byte stream.
func (t *Transport) SentBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []byte
	for _, f := range t.sent {
		out = append(out, f...)
	}
	return out
}

var _ transport.Transport = (*Transport)(nil)
