// Package pacing implements the adaptive send-rate state machine for a
// notification-based byte transport.
//
// The only feedback the engine gets is one asynchronous status code per send
// attempt. From that it runs a probing/backoff discipline over the send
// interval: after enough clean sends it probes a faster interval, confirms
// or reverts it, and under sustained congestion relaxes the accepted floor —
// a slow-start/AIMD relative specialized for a link whose capacity moves in
// discrete steps (MTU, PHY, data-length renegotiation) rather than
// continuously.
package pacing

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/uutzinger/bleserial/internal/trace"
	"github.com/uutzinger/bleserial/pkg/link"
)

// State is the engine's pacing mode.
type State uint8

const (
	// Steady: sending at the current interval, accumulating successes
	// toward the next probe.
	Steady State = iota
	// Probing: trying an interval faster than the last known good one.
	Probing
	// Cooldown: just backed off; probing stays disabled until enough
	// clean sends accumulate.
	Cooldown
)

func (s State) String() string {
	switch s {
	case Steady:
		return "steady"
	case Probing:
		return "probing"
	default:
		return "cooldown"
	}
}

// Disposition tells the frame owner what to do with the staged frame after
// an outcome has been applied.
type Disposition uint8

const (
	// Consume: the frame was delivered; remove its bytes from the ring.
	Consume Disposition = iota
	// Retain: keep the frame staged and retry it on the next tick.
	Retain
	// Restage: unstage the frame; its bytes stay in the ring and will be
	// restaged, possibly at a new chunk size.
	Restage
	// Discard: remove the frame's bytes from the ring without delivery.
	Discard
)

// Config holds the pacing policy knobs. The defaults are the tuned values
// from long soak runs against NimBLE peers; most deployments only ever
// change the ceiling.
type Config struct {
	// Probe policy: start probing after this many consecutive clean sends,
	// accept the probed interval after this many more.
	ProbeAfterSuccesses   int `default:"64" yaml:"probe_after_successes"`
	ProbeConfirmSuccesses int `default:"48" yaml:"probe_confirm_successes"`

	// Probe step: the larger of the absolute step and the percentage of
	// the current interval.
	ProbeStepUs  int64 `default:"10" yaml:"probe_step_us"`
	ProbeStepPct int64 `default:"2" yaml:"probe_step_pct"`

	// LKG escalation: after this many congestion failures at the last
	// known good interval, relax it by the given percentage, at most once
	// per cooldown period and only while the ring shows backlog.
	EscalateAfterFails int           `default:"3" yaml:"escalate_after_fails"`
	EscalatePct        int64         `default:"3" yaml:"escalate_pct"`
	EscalateCooldown   time.Duration `default:"1s" yaml:"escalate_cooldown"`

	// Clean sends required after a backoff before probing resumes.
	CooldownSuccesses int `default:"64" yaml:"cooldown_successes"`

	// CeilingIntervalUs is the policy maximum; disconnects park the
	// interval here.
	CeilingIntervalUs int64 `default:"1000000" yaml:"ceiling_interval_us"`

	// Oversize recovery: halve the chunk this many times before forcing
	// the minimum, then treat a further failure as fatal.
	OversizeMaxRetries int `default:"3" yaml:"oversize_max_retries"`

	// Malformed recovery: shrink the chunk by this percentage at most
	// this many times; never touches the pacing interval.
	MalformedMaxRetries int `default:"8" yaml:"malformed_max_retries"`
	MalformedShrinkPct  int `default:"10" yaml:"malformed_shrink_pct"`
}

// DefaultConfig returns the tuned default policy.
func DefaultConfig() Config {
	var c Config
	defaults.SetDefaults(&c)
	return c
}

// Options configures an Engine.
type Options struct {
	Profile link.Profile
	Config  Config

	Logger *logrus.Logger // nil: no-op
	Clock  clock.Clock    // nil: wall clock
	Trace  *trace.Recorder

	// Backlog reports the transmit ring occupancy and the current low
	// watermark; LKG escalation requires backlog pressure so a quiet
	// link never relaxes its floor. Nil means "no backlog".
	Backlog func() (occupancy, lowWater int)

	// OnChunkChange fires when error recovery shrinks the chunk size, so
	// the owner can recompute watermarks and restage.
	OnChunkChange func(chunkSize int)

	// RequestDisconnect fires when oversize recovery is exhausted at the
	// minimum chunk size.
	RequestDisconnect func()
}

// Engine is the pacing state machine. One instance serves one link.
//
// The transmitter context calls ShouldSend/NoteSent; the transport's
// outcome-delivery context calls OnOutcome. A single mutex serializes them;
// the design assumes a single frame in flight at a time, so the critical
// sections stay short and never block.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	profile link.Profile
	log     *logrus.Logger
	clk     clock.Clock
	tr      *trace.Recorder

	backlog           func() (int, int)
	onChunkChange     func(int)
	requestDisconnect func()

	params    link.Params
	chunkSize int

	intervalUs int64 // current pacing interval
	floorUs    int64 // minimum interval for the current link parameters
	lkgUs      int64 // last interval confirmed safe by sustained successes

	state             State
	successStreak     int
	probeSuccesses    int
	probeFailures     int
	lkgFailStreak     int
	cooldownSuccesses int
	lastEscalateAt    time.Time
	lastSendAt        time.Time

	oversizeRetries  int
	malformedRetries int

	// deferred notifications, delivered after the lock is released
	chunkNotify      int // -1 when nothing pending
	disconnectWanted bool

	// counters for the diagnostics surface
	probeAccepts  uint64
	probeReverts  uint64
	escalations   uint64
	backoffs      uint64
	oversizeHits  uint64
	malformedHits uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}()

// NewEngine creates an engine paced for the conservative default link
// parameters; ApplyLinkParams must be called once the real ones are known.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	zero := Config{}
	if opts.Config == zero {
		opts.Config = DefaultConfig()
	}

	e := &Engine{
		cfg:               opts.Config,
		profile:           opts.Profile,
		log:               opts.Logger,
		clk:               opts.Clock,
		tr:                opts.Trace,
		backlog:           opts.Backlog,
		onChunkChange:     opts.OnChunkChange,
		requestDisconnect: opts.RequestDisconnect,
		chunkNotify:       -1,
	}
	e.mu.Lock()
	e.applyParamsLocked(link.DefaultParams())
	e.intervalUs = e.cfg.CeilingIntervalUs // conservative until connected
	e.lkgUs = e.intervalUs
	e.mu.Unlock()
	return e
}

// ApplyLinkParams installs newly negotiated link parameters: recomputes the
// chunk size and pacing floor, clamps the interval to the new floor, resets
// every probe/backoff/cooldown counter, and reseeds the last known good
// interval. Called on connect and on every MTU/PHY/data-length change.
func (e *Engine) ApplyLinkParams(p link.Params) {
	e.mu.Lock()
	e.applyParamsLocked(p)
	chunk := e.chunkSize
	e.mu.Unlock()

	if e.onChunkChange != nil {
		e.onChunkChange(chunk)
	}
	if e.tr != nil {
		e.tr.Note(trace.KindLinkChange, e.IntervalUs(), chunk)
	}
	e.log.WithFields(logrus.Fields{
		"params":     p.String(),
		"chunk":      chunk,
		"intervalUs": e.IntervalUs(),
	}).Info("Link parameters applied")
}

func (e *Engine) applyParamsLocked(p link.Params) {
	e.params = p
	e.chunkSize = link.ChunkSize(p.MTU, p.LLOctets, p.Encrypted, e.profile)
	e.floorUs = int64(link.MinSendIntervalUs(e.chunkSize, p.LLOctets, p.LLTimeUs, e.profile, p.Encrypted))
	e.intervalUs = e.floorUs
	e.lkgUs = e.floorUs
	e.resetRampLocked()
	e.oversizeRetries = 0
	e.malformedRetries = 0
}

// resetRampLocked clears all probe/backoff/cooldown soft state.
func (e *Engine) resetRampLocked() {
	e.state = Steady
	e.successStreak = 0
	e.probeSuccesses = 0
	e.probeFailures = 0
	e.lkgFailStreak = 0
	e.cooldownSuccesses = 0
	e.lastEscalateAt = time.Time{}
}

// HandleDisconnect parks the engine at the ceiling interval with all soft
// state cleared; the link is gone and nothing can be inferred from it.
func (e *Engine) HandleDisconnect(defaults link.Params) {
	e.mu.Lock()
	e.applyParamsLocked(defaults)
	e.intervalUs = e.cfg.CeilingIntervalUs
	e.lkgUs = e.cfg.CeilingIntervalUs
	e.lastSendAt = time.Time{}
	chunk := e.chunkSize
	e.mu.Unlock()

	if e.tr != nil {
		e.tr.Note(trace.KindDisconnect, e.cfg.CeilingIntervalUs, chunk)
	}
}

// ShouldSend reports whether the pacing interval has elapsed since the last
// send. It never blocks; callers that are early simply try again on the
// next tick.
func (e *Engine) ShouldSend(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSendAt.IsZero() {
		return true
	}
	return now.Sub(e.lastSendAt).Microseconds() >= e.intervalUs
}

// NoteSent stamps a send attempt.
func (e *Engine) NoteSent(now time.Time) {
	e.mu.Lock()
	e.lastSendAt = now
	e.mu.Unlock()
}

// ChunkSize returns the current maximum payload per send.
func (e *Engine) ChunkSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chunkSize
}

// IntervalUs returns the current pacing interval.
func (e *Engine) IntervalUs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intervalUs
}

// OnOutcome applies one classified send outcome to the state machine and
// returns the disposition for the staged frame. It runs on the transport's
// outcome-delivery goroutine and never blocks.
func (e *Engine) OnOutcome(class Class) Disposition {
	e.mu.Lock()
	var disp Disposition
	switch class {
	case Success:
		disp = e.onSuccessLocked()
	case Oversize:
		disp = e.onOversizeLocked()
	case Malformed:
		disp = e.onMalformedLocked()
	case AppError:
		disp = Discard
	case Congestion:
		disp = e.onCongestionLocked()
	case Disconnected:
		disp = e.onDisconnectedLocked()
	default:
		disp = e.onUnclassifiedLocked()
	}
	chunk := e.chunkNotify
	e.chunkNotify = -1
	disconnect := e.disconnectWanted
	e.disconnectWanted = false
	e.mu.Unlock()

	if chunk >= 0 && e.onChunkChange != nil {
		e.onChunkChange(chunk)
	}
	if disconnect && e.requestDisconnect != nil {
		e.requestDisconnect()
	}
	return disp
}

func (e *Engine) onSuccessLocked() Disposition {
	e.oversizeRetries = 0

	switch e.state {
	case Cooldown:
		e.cooldownSuccesses++
		if e.cooldownSuccesses >= e.cfg.CooldownSuccesses {
			e.state = Steady
			e.cooldownSuccesses = 0
			e.successStreak = 0
			e.lkgFailStreak = 0
		}
	case Probing:
		e.probeSuccesses++
		if e.probeSuccesses >= e.cfg.ProbeConfirmSuccesses {
			e.lkgUs = e.intervalUs
			e.state = Steady
			e.probeSuccesses = 0
			e.probeFailures = 0
			e.lkgFailStreak = 0
			e.successStreak = 0
			e.probeAccepts++
			if e.tr != nil {
				e.tr.Note(trace.KindProbeAccept, e.intervalUs, e.chunkSize)
			}
			e.log.WithField("lkgUs", e.lkgUs).Info("Probe accepted")
		}
	default: // Steady
		e.lkgFailStreak = 0
		e.successStreak++
		if e.successStreak >= e.cfg.ProbeAfterSuccesses {
			e.successStreak = 0
			e.lkgUs = e.intervalUs
			e.startProbeLocked()
		}
	}
	return Consume
}

// startProbeLocked begins probing a faster interval: step down by the
// larger of the absolute and percentage step, never below the floor.
func (e *Engine) startProbeLocked() {
	step := e.cfg.ProbeStepUs
	if pct := e.intervalUs * e.cfg.ProbeStepPct / 100; pct > step {
		step = pct
	}
	cand := e.intervalUs - step
	if cand < e.floorUs {
		cand = e.floorUs
	}
	if cand >= e.intervalUs {
		return // already at the floor, nothing to probe
	}
	e.intervalUs = cand
	e.state = Probing
	e.probeSuccesses = 0
	e.probeFailures = 0
	if e.tr != nil {
		e.tr.Note(trace.KindProbeStart, e.intervalUs, e.chunkSize)
	}
	e.log.WithFields(logrus.Fields{
		"fromUs": e.lkgUs,
		"toUs":   e.intervalUs,
	}).Info("Starting probe")
}

func (e *Engine) onOversizeLocked() Disposition {
	e.oversizeHits++
	e.oversizeRetries++

	switch {
	case e.oversizeRetries <= e.cfg.OversizeMaxRetries:
		e.setChunkLocked(e.chunkSize / 2)
		e.log.WithFields(logrus.Fields{
			"chunk": e.chunkSize,
			"retry": e.oversizeRetries,
			"max":   e.cfg.OversizeMaxRetries,
		}).Warn("Payload oversize, chunk halved")
	case e.chunkSize > link.MinChunkBytes:
		e.setChunkLocked(link.MinChunkBytes)
		e.oversizeRetries = 0
		e.log.Warn("Payload oversize persists, chunk forced to minimum")
	default:
		// Already at the minimum and still rejected: nothing left to
		// shrink, give the link up.
		e.oversizeRetries = 0
		e.log.Error("Payload oversize at minimum chunk, requesting disconnect")
		e.disconnectWanted = true
	}
	return Restage
}

func (e *Engine) onMalformedLocked() Disposition {
	e.malformedHits++
	if e.malformedRetries < e.cfg.MalformedMaxRetries {
		shrunk := e.chunkSize * (100 - e.cfg.MalformedShrinkPct) / 100
		if shrunk < e.chunkSize {
			e.setChunkLocked(shrunk)
			e.malformedRetries++
			e.log.WithFields(logrus.Fields{
				"chunk": e.chunkSize,
				"retry": e.malformedRetries,
				"max":   e.cfg.MalformedMaxRetries,
			}).Info("Malformed payload, chunk shrunk")
		}
	} else {
		e.log.Warn("Malformed payload persists, chunk left unchanged")
	}
	// A framing problem, not congestion: pacing and probe state stay put.
	return Restage
}

// setChunkLocked installs a smaller chunk, refloors the interval, and
// notifies the owner so watermarks follow.
func (e *Engine) setChunkLocked(chunk int) {
	if chunk < link.MinChunkBytes {
		chunk = link.MinChunkBytes
	}
	e.chunkSize = chunk
	e.floorUs = int64(link.MinSendIntervalUs(chunk, e.params.LLOctets, e.params.LLTimeUs, e.profile, e.params.Encrypted))
	if e.intervalUs < e.floorUs {
		e.intervalUs = e.floorUs
	}
	if e.lkgUs < e.floorUs {
		e.lkgUs = e.floorUs
	}
	if e.tr != nil {
		e.tr.Note(trace.KindChunkChange, e.intervalUs, chunk)
	}
	e.chunkNotify = chunk
}

func (e *Engine) onCongestionLocked() Disposition {
	e.successStreak = 0
	e.backoffs++

	if e.state == Probing {
		// The probe's faster interval is the prime suspect: revert to the
		// last known good interval before anything else happens.
		e.probeFailures++
		e.intervalUs = e.lkgUs
		e.lkgFailStreak = 0
		e.state = Cooldown
		e.cooldownSuccesses = 0
		e.probeReverts++
		if e.tr != nil {
			e.tr.Note(trace.KindProbeRevert, e.intervalUs, e.chunkSize)
		}
		e.log.WithField("lkgUs", e.lkgUs).Info("Probe failed, reverted to last known good")
		return Retain
	}

	e.state = Cooldown
	e.cooldownSuccesses = 0
	if e.tr != nil {
		e.tr.Note(trace.KindBackoff, e.intervalUs, e.chunkSize)
	}

	e.lkgFailStreak++
	if e.lkgFailStreak >= e.cfg.EscalateAfterFails {
		now := e.clk.Now()
		occupancy, lowWater := 0, 1
		if e.backlog != nil {
			occupancy, lowWater = e.backlog()
		}
		cooledDown := e.lastEscalateAt.IsZero() || now.Sub(e.lastEscalateAt) >= e.cfg.EscalateCooldown
		if cooledDown && occupancy >= lowWater {
			// The accepted floor itself is too fast for the link right
			// now: relax it one notch.
			e.lastEscalateAt = now
			e.lkgFailStreak = 0
			next := e.lkgUs * (100 + e.cfg.EscalatePct) / 100
			if next < e.floorUs {
				next = e.floorUs
			}
			if next > e.cfg.CeilingIntervalUs {
				next = e.cfg.CeilingIntervalUs
			}
			e.lkgUs = next
			e.intervalUs = next
			e.escalations++
			if e.tr != nil {
				e.tr.Note(trace.KindEscalate, next, e.chunkSize)
			}
			e.log.WithField("lkgUs", next).Warn("Sustained congestion, last known good relaxed")
		}
	}
	return Retain
}

func (e *Engine) onDisconnectedLocked() Disposition {
	e.resetRampLocked()
	e.intervalUs = e.cfg.CeilingIntervalUs
	e.lkgUs = e.cfg.CeilingIntervalUs
	if e.tr != nil {
		e.tr.Note(trace.KindDisconnect, e.intervalUs, e.chunkSize)
	}
	e.log.Warn("Link closed during send")
	return Restage
}

func (e *Engine) onUnclassifiedLocked() Disposition {
	// An unknown code must never be read as permission to speed up. The
	// only reaction is aborting an in-progress probe.
	if e.state == Probing {
		e.state = Steady
		e.intervalUs = e.lkgUs
		e.lkgFailStreak = 0
		e.probeReverts++
		if e.tr != nil {
			e.tr.Note(trace.KindProbeRevert, e.intervalUs, e.chunkSize)
		}
		e.log.WithField("lkgUs", e.lkgUs).Info("Unclassified outcome while probing, reverted")
	}
	return Retain
}

// Snapshot is a read-only view of the engine for the diagnostics surface.
type Snapshot struct {
	State         State
	ChunkSize     int
	IntervalUs    int64
	FloorUs       int64
	LKGUs         int64
	CeilingUs     int64
	SuccessStreak int
	LKGFailStreak int
	ProbeAccepts  uint64
	ProbeReverts  uint64
	Escalations   uint64
	Backoffs      uint64
	OversizeHits  uint64
	MalformedHits uint64
}

// Snapshot returns the current pacing state and counters.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:         e.state,
		ChunkSize:     e.chunkSize,
		IntervalUs:    e.intervalUs,
		FloorUs:       e.floorUs,
		LKGUs:         e.lkgUs,
		CeilingUs:     e.cfg.CeilingIntervalUs,
		SuccessStreak: e.successStreak,
		LKGFailStreak: e.lkgFailStreak,
		ProbeAccepts:  e.probeAccepts,
		ProbeReverts:  e.probeReverts,
		Escalations:   e.escalations,
		Backoffs:      e.backoffs,
		OversizeHits:  e.oversizeHits,
		MalformedHits: e.malformedHits,
	}
}
