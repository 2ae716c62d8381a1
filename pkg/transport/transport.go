// Package transport defines the boundary between the paced serial port and
// the actual byte carrier underneath it.
//
// A Transport is the outbound half: it accepts one payload per send attempt
// and exposes the link controls the port needs (link parameters, RSSI, PHY
// change, disconnect). The inbound half is the EventSink the port implements;
// the transport delivers connection lifecycle, link-parameter changes, send
// outcomes and received bytes through it, from whatever goroutine it owns.
package transport

import (
	"errors"

	"github.com/uutzinger/bleserial/pkg/link"
)

// ErrUnsupported is returned by optional link controls a transport cannot
// perform (RSSI reads or PHY changes on hardware that lacks them). Callers
// treat it as "feature absent", not as a link failure.
var ErrUnsupported = errors.New("transport: operation not supported")

// Transport is the outbound side of a link.
//
// Send hands one payload to the carrier and reports whether the attempt was
// accepted for delivery; the definitive outcome arrives later as a status
// code through EventSink.OnSendOutcome. Send must not block on the link and
// must not retain the slice after returning.
type Transport interface {
	Send(payload []byte) bool

	// LinkParameters returns the currently negotiated link parameters.
	LinkParameters() link.Params

	// ReadRSSI samples the current signal strength in dBm.
	ReadRSSI() (int, error)

	// RequestPHY asks the controller to switch modulation. The change is
	// confirmed asynchronously via EventSink.OnPHYChanged; until then the
	// negotiated parameters stay as they were.
	RequestPHY(phy link.PHY, coding link.Coding) error

	// RequestDisconnect tears the link down. OnDisconnect follows.
	RequestDisconnect() error
}

// EventSink receives the transport's asynchronous events. Implementations
// must not block: the transport may deliver from its own event loop, and a
// stalled sink stalls the link.
type EventSink interface {
	// OnSendOutcome delivers the raw status code for the most recent send.
	OnSendOutcome(code int)

	// OnConnect fires once the link is up with its initial parameters.
	OnConnect(p link.Params)

	// OnDisconnect fires when the link is gone, however that happened.
	OnDisconnect()

	// Link-parameter renegotiation, each delivering the changed value.
	OnMTUChanged(mtu uint16)
	OnPHYChanged(phy link.PHY, coding link.Coding)
	OnDataLengthChanged(octets uint16, timeUs uint32)

	// OnSubscriptionChanged reports whether the peer is currently listening;
	// sends are pointless while it is not.
	OnSubscriptionChanged(subscribed bool)

	// OnReceive delivers bytes from the peer. The slice is only valid for
	// the duration of the call.
	OnReceive(p []byte)
}
