// Package bleuart implements the transport over a Nordic UART Service
// peripheral using go-ble as the central: write-without-response on the RX
// characteristic carries outbound bytes, notifications on the TX
// characteristic carry inbound bytes.
//
// The go-ble host stack does not surface link-layer negotiation (data length,
// PHY updates) to the application, so the link parameters are the exchanged
// MTU over conservative 1M-PHY link-layer assumptions; the pacing policy
// absorbs the difference through its outcome feedback.
package bleuart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/uutzinger/bleserial/pkg/link"
	"github.com/uutzinger/bleserial/pkg/transport"
)

// Nordic UART Service UUIDs.
var (
	ServiceUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	RxCharUUID  = ble.MustParse("6E400002-B5A3-F393-E0A9-E50E24DCCA9E") // central -> peripheral
	TxCharUUID  = ble.MustParse("6E400003-B5A3-F393-E0A9-E50E24DCCA9E") // peripheral -> central
)

// Options configures a Transport.
type Options struct {
	// Address is the peripheral's BLE address (or identifier on darwin).
	Address string

	// RequestedMTU is offered during MTU exchange. The negotiated value may
	// be lower.
	RequestedMTU uint16 // default 247

	ConnectTimeout time.Duration // default 30s

	Logger *logrus.Logger
}

// Transport is a central-side NUS link.
type Transport struct {
	mu sync.Mutex

	opts Options
	log  *logrus.Logger
	sink transport.EventSink

	client    ble.Client
	rxChar    *ble.Characteristic
	txChar    *ble.Characteristic
	params    link.Params
	connected bool
}

// New creates a transport for the given peripheral. Connect establishes the
// actual link.
func New(opts Options) *Transport {
	if opts.RequestedMTU == 0 {
		opts.RequestedMTU = link.DefaultMTU
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.PanicLevel)
	}
	return &Transport{opts: opts, log: opts.Logger}
}

// Attach wires the event sink. Must be called before Connect.
func (t *Transport) Attach(sink transport.EventSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Connect dials the peripheral, discovers the UART service, exchanges the
// MTU, and subscribes to inbound notifications. On success the sink gets
// OnConnect followed by OnSubscriptionChanged(true).
func (t *Transport) Connect(ctx context.Context) error {
	dev, err := newDevice()
	if err != nil {
		return fmt.Errorf("creating BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	t.log.WithField("address", t.opts.Address).Info("Connecting to peripheral")
	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(dialCtx, ble.NewAddr(t.opts.Address))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.opts.Address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return fmt.Errorf("discovering profile: %w", err)
	}

	rxChar, txChar, err := findUARTChars(profile)
	if err != nil {
		client.CancelConnection()
		return err
	}

	mtu := link.MinMTU
	if negotiated, err := client.ExchangeMTU(int(t.opts.RequestedMTU)); err == nil {
		mtu = negotiated
	} else {
		t.log.WithError(err).Debug("MTU exchange failed, staying at minimum")
	}
	if mtu > int(link.MaxMTU) {
		mtu = int(link.MaxMTU)
	}

	params := link.Params{
		MTU:      uint16(mtu),
		LLOctets: link.LLMaxOctets,
		LLTimeUs: link.PDUTimeUs(link.LLMaxOctets, link.PHY1M, link.CodingNone),
		PHY:      link.PHY1M,
	}

	t.mu.Lock()
	t.client = client
	t.rxChar = rxChar
	t.txChar = txChar
	t.params = params
	t.connected = true
	sink := t.sink
	t.mu.Unlock()

	if err := client.Subscribe(txChar, false, func(data []byte) {
		if sink != nil {
			sink.OnReceive(data)
		}
	}); err != nil {
		client.CancelConnection()
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		return fmt.Errorf("subscribing to TX characteristic: %w", err)
	}

	go t.watchDisconnect(client)

	if sink != nil {
		sink.OnConnect(params)
		sink.OnSubscriptionChanged(true)
	}
	t.log.WithField("params", params.String()).Info("UART link established")
	return nil
}

func findUARTChars(profile *ble.Profile) (rx, tx *ble.Characteristic, err error) {
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(ServiceUUID) {
			continue
		}
		for _, char := range svc.Characteristics {
			switch {
			case char.UUID.Equal(RxCharUUID):
				rx = char
			case char.UUID.Equal(TxCharUUID):
				tx = char
			}
		}
	}
	if rx == nil || tx == nil {
		return nil, nil, fmt.Errorf("UART service %s not found or incomplete", ServiceUUID)
	}
	return rx, tx, nil
}

func (t *Transport) watchDisconnect(client ble.Client) {
	<-client.Disconnected()

	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	sink := t.sink
	t.mu.Unlock()

	if wasConnected && sink != nil {
		sink.OnDisconnect()
	}
	t.log.Info("Peripheral disconnected")
}

// Send writes one payload without response and delivers the outcome before
// returning. Write-without-response either reaches the controller's buffer
// or fails locally; there is no later acknowledgment to wait for.
func (t *Transport) Send(payload []byte) bool {
	t.mu.Lock()
	client := t.client
	rxChar := t.rxChar
	connected := t.connected
	sink := t.sink
	t.mu.Unlock()

	if !connected || client == nil {
		return false
	}

	err := client.WriteCharacteristic(rxChar, payload, true)
	if sink != nil {
		sink.OnSendOutcome(outcomeCode(err))
	}
	return true
}

// outcomeCode folds a write error into the NimBLE-style status numbering
// the classifier understands.
func outcomeCode(err error) int {
	switch {
	case err == nil:
		return transport.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return transport.StatusTimeout
	default:
		return transport.StatusBusy
	}
}

// LinkParameters returns the parameters negotiated at connect time.
func (t *Transport) LinkParameters() link.Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// ReadRSSI samples signal strength through the client.
func (t *Transport) ReadRSSI() (int, error) {
	t.mu.Lock()
	client := t.client
	connected := t.connected
	t.mu.Unlock()

	if !connected || client == nil {
		return 0, transport.ErrUnsupported
	}
	rssi := client.ReadRSSI()
	if rssi == 0 {
		// go-ble reports 0 when the platform cannot read RSSI.
		return 0, transport.ErrUnsupported
	}
	return rssi, nil
}

// RequestPHY is not supported: the go-ble host stack has no PHY update
// surface. The adaptation monitor treats this as feature-absent.
func (t *Transport) RequestPHY(link.PHY, link.Coding) error {
	return transport.ErrUnsupported
}

// RequestDisconnect tears the connection down; OnDisconnect follows from
// the disconnect watcher.
func (t *Transport) RequestDisconnect() error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

var _ transport.Transport = (*Transport)(nil)
