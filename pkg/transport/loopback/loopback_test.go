package loopback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uutzinger/bleserial/pkg/link"
	"github.com/uutzinger/bleserial/pkg/transport"
)

// recordingSink captures delivered events for inspection.
type recordingSink struct {
	outcomes   []int
	connects   []link.Params
	disconnect int
	mtus       []uint16
	phys       []link.PHY
	received   []byte
	subscribed []bool
}

func (r *recordingSink) OnSendOutcome(code int)        { r.outcomes = append(r.outcomes, code) }
func (r *recordingSink) OnConnect(p link.Params)       { r.connects = append(r.connects, p) }
func (r *recordingSink) OnDisconnect()                 { r.disconnect++ }
func (r *recordingSink) OnMTUChanged(mtu uint16)       { r.mtus = append(r.mtus, mtu) }
func (r *recordingSink) OnPHYChanged(p link.PHY, _ link.Coding) {
	r.phys = append(r.phys, p)
}
func (r *recordingSink) OnDataLengthChanged(uint16, uint32) {}
func (r *recordingSink) OnSubscriptionChanged(on bool) {
	r.subscribed = append(r.subscribed, on)
}
func (r *recordingSink) OnReceive(p []byte) { r.received = append(r.received, p...) }

func connectedLoopback(sink transport.EventSink) *Transport {
	t := New(nil)
	t.Attach(sink)
	t.Connect(link.Params{
		MTU:      247,
		LLOctets: 251,
		LLTimeUs: link.PDUTimeUs(251, link.PHY1M, link.CodingNone),
		PHY:      link.PHY1M,
	})
	return t
}

func TestEventsQueueUntilStep(t *testing.T) {
	sink := &recordingSink{}
	lb := connectedLoopback(sink)

	require.True(t, lb.Send([]byte("abc")))
	assert.Empty(t, sink.outcomes, "nothing delivered before Step")

	n := lb.Step()
	assert.Equal(t, 2, n) // connect(+subscribe) closure and the outcome
	assert.Len(t, sink.connects, 1)
	assert.Equal(t, []bool{true}, sink.subscribed)
	assert.Equal(t, []int{transport.StatusOK}, sink.outcomes)
}

func TestScriptedOutcomesConsumeInOrder(t *testing.T) {
	sink := &recordingSink{}
	lb := connectedLoopback(sink)
	lb.ScriptOutcomes(transport.StatusNoMem, transport.StatusBadData)

	lb.Send([]byte("a"))
	lb.Send([]byte("b"))
	lb.Send([]byte("c")) // beyond the script: success
	lb.Step()

	assert.Equal(t, []int{transport.StatusNoMem, transport.StatusBadData, transport.StatusOK}, sink.outcomes)
}

func TestSendRequiresConnection(t *testing.T) {
	lb := New(nil)
	lb.Attach(&recordingSink{})

	assert.False(t, lb.Send([]byte("x")))
	assert.Empty(t, lb.Sent())
}

func TestPHYChangeConfirmedOnStep(t *testing.T) {
	sink := &recordingSink{}
	lb := connectedLoopback(sink)
	lb.Step()

	require.NoError(t, lb.RequestPHY(link.PHY2M, link.CodingNone))
	assert.Equal(t, link.PHY1M, lb.LinkParameters().PHY, "not applied until Step")

	lb.Step()
	assert.Equal(t, []link.PHY{link.PHY2M}, sink.phys)
	p := lb.LinkParameters()
	assert.Equal(t, link.PHY2M, p.PHY)
	assert.Equal(t, link.PDUTimeUs(251, link.PHY2M, link.CodingNone), p.LLTimeUs)
}

func TestInjectDeliversReceivedBytes(t *testing.T) {
	sink := &recordingSink{}
	lb := connectedLoopback(sink)

	lb.Inject([]byte("hello "))
	lb.Inject([]byte("world"))
	lb.Step()

	assert.Equal(t, "hello world", string(sink.received))
}

func TestDropAndRequestDisconnect(t *testing.T) {
	sink := &recordingSink{}
	lb := connectedLoopback(sink)
	lb.Step()

	require.NoError(t, lb.RequestDisconnect())
	lb.Step()
	assert.Equal(t, 1, sink.disconnect)
	assert.False(t, lb.Send([]byte("x")), "link is down")

	// Disconnecting a dead link is a no-op.
	require.NoError(t, lb.RequestDisconnect())
	assert.Equal(t, 0, lb.Step())
}

func TestSentBytesConcatenates(t *testing.T) {
	sink := &recordingSink{}
	lb := connectedLoopback(sink)

	lb.Send([]byte("ab"))
	lb.Send([]byte("cd"))

	assert.Equal(t, "abcd", string(lb.SentBytes()))
	assert.Len(t, lb.Sent(), 2)
}
