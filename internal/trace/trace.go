// Package trace keeps a bounded flight recorder of recent pacing decisions
// for the diagnostics surface.
//
// Producers (the pacing engine, the port's event handlers) record from their
// own goroutines; the status surface drains snapshots. The recorder
// overwrites the oldest entries when full, so recording never blocks a
// send or outcome path.
package trace

import (
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Kind labels a recorded pacing decision.
type Kind string

const (
	KindProbeStart  Kind = "probe-start"
	KindProbeAccept Kind = "probe-accept"
	KindProbeRevert Kind = "probe-revert"
	KindBackoff     Kind = "backoff"
	KindEscalate    Kind = "escalate"
	KindChunkChange Kind = "chunk-change"
	KindLinkChange  Kind = "link-change"
	KindDisconnect  Kind = "disconnect"
)

// Event is one recorded decision with the pacing values in effect after it.
type Event struct {
	At         time.Time
	Kind       Kind
	IntervalUs int64
	ChunkSize  int
}

// Recorder is a fixed-capacity, overwrite-oldest event buffer.
type Recorder struct {
	buf         mpmc.RichOverlappedRingBuffer[Event]
	recorded    uint64
	overwritten uint64
}

// NewRecorder creates a recorder holding up to capacity events.
func NewRecorder(capacity uint32) *Recorder {
	return &Recorder{
		buf: mpmc.NewOverlappedRingBuffer[Event](capacity),
	}
}

// Record appends an event, overwriting the oldest when full.
func (r *Recorder) Record(ev Event) {
	overwrites, err := r.buf.EnqueueM(ev)
	if err != nil {
		// Overlapped ring never rejects; treat an error as a dropped event.
		return
	}
	atomic.AddUint64(&r.recorded, 1)
	if overwrites > 0 {
		atomic.AddUint64(&r.overwritten, uint64(overwrites))
	}
}

// Note is a convenience wrapper stamping the event with now.
func (r *Recorder) Note(kind Kind, intervalUs int64, chunkSize int) {
	r.Record(Event{At: time.Now(), Kind: kind, IntervalUs: intervalUs, ChunkSize: chunkSize})
}

// Drain removes and returns all currently buffered events, oldest first.
func (r *Recorder) Drain() []Event {
	var out []Event
	for !r.buf.IsEmpty() {
		ev, err := r.buf.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// Recorded returns the total number of events recorded.
func (r *Recorder) Recorded() uint64 {
	return atomic.LoadUint64(&r.recorded)
}

// Overwritten returns how many events were lost to overwriting.
func (r *Recorder) Overwritten() uint64 {
	return atomic.LoadUint64(&r.overwritten)
}
