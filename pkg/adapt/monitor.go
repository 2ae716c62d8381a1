// Package adapt implements the RSSI-driven link adaptation policy: it keeps a
// smoothed signal estimate and recommends a target PHY and coding scheme with
// hysteresis, so the owner can request a PHY change from the transport.
//
// The monitor only recommends. The transport confirms the actual negotiated
// PHY later through a link-parameter-change event, and that event is what
// drives frame sizing and pacing resets.
package adapt

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/uutzinger/bleserial/pkg/link"
)

// Target is a desired PHY plus coding scheme.
type Target struct {
	PHY    link.PHY
	Coding link.Coding
}

func (t Target) String() string {
	if t.PHY == link.PHYCoded {
		return "Coded(" + t.Coding.String() + ")"
	}
	return t.PHY.String()
}

// Config holds the adaptation thresholds, in dBm. The bands overlap by the
// hysteresis margin so a signal hovering on a boundary does not flap the PHY.
type Config struct {
	// Below S8Threshold (plus hysteresis) the most robust coded scheme wins.
	S8Threshold int `default:"-82" yaml:"s8_threshold"`
	// Below S2Threshold (plus hysteresis) the faster coded scheme wins.
	S2Threshold int `default:"-75" yaml:"s2_threshold"`
	// Above FastThreshold (minus hysteresis) the uncoded 2M PHY wins.
	FastThreshold int `default:"-65" yaml:"fast_threshold"`
	Hysteresis    int `default:"4" yaml:"hysteresis"`

	// SampleInterval is how often RSSI is read while connected.
	SampleInterval time.Duration `default:"500ms" yaml:"sample_interval"`
	// ActionCooldown throttles PHY change requests; controllers take a
	// while to complete a PHY update procedure.
	ActionCooldown time.Duration `default:"4s" yaml:"action_cooldown"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	var c Config
	defaults.SetDefaults(&c)
	return c
}

// Monitor smooths RSSI samples and recommends PHY changes.
//
// The owner feeds it from whatever cadence it samples RSSI on; SetNegotiated
// is called from the transport's event context when a PHY change is
// confirmed. A mutex covers both since neither path is hot.
type Monitor struct {
	mu sync.Mutex

	cfg Config
	log *logrus.Logger
	clk clock.Clock

	avg        int // EMA of RSSI; 0 means no sample yet
	raw        int
	negotiated Target
	lastAction time.Time
	lastSample time.Time
}

// NewMonitor creates a monitor assuming the link starts on the 1M PHY.
func NewMonitor(cfg Config, log *logrus.Logger, clk clock.Clock) *Monitor {
	zero := Config{}
	if cfg == zero {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		cfg:        cfg,
		log:        log,
		clk:        clk,
		negotiated: Target{PHY: link.PHY1M},
	}
}

// ShouldSample reports whether the sampling period has elapsed; the owner
// calls it from its tick loop to decide when to read RSSI.
func (m *Monitor) ShouldSample(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSample.IsZero() {
		return true
	}
	return now.Sub(m.lastSample) >= m.cfg.SampleInterval
}

// SetNegotiated records the PHY the controller actually switched to. Called
// on connect and on every confirmed PHY change event.
func (m *Monitor) SetNegotiated(t Target) {
	m.mu.Lock()
	m.negotiated = t
	m.mu.Unlock()
}

// Reset clears the signal estimate; called on disconnect so a stale average
// from the previous link never biases the next one.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.avg = 0
	m.raw = 0
	m.negotiated = Target{PHY: link.PHY1M}
	m.lastAction = time.Time{}
	m.lastSample = time.Time{}
	m.mu.Unlock()
}

// Sample folds one RSSI reading into the estimate and reports whether a PHY
// change should be requested, and to what. It returns false while the action
// cooldown is open, while the estimate sits in the no-change band, or when
// the desired target already matches the negotiated one.
func (m *Monitor) Sample(now time.Time, rssi int) (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSample = now
	m.raw = rssi
	if m.avg == 0 {
		m.avg = rssi
	} else {
		m.avg = (4*m.avg + rssi) / 5
	}

	if !m.lastAction.IsZero() && now.Sub(m.lastAction) < m.cfg.ActionCooldown {
		return Target{}, false
	}

	want, ok := m.desiredLocked()
	if !ok || want == m.negotiated {
		return Target{}, false
	}

	m.lastAction = now
	m.log.WithFields(logrus.Fields{
		"avg":  m.avg,
		"raw":  m.raw,
		"from": m.negotiated.String(),
		"to":   want.String(),
	}).Info("Requesting PHY change")
	return want, true
}

// desiredLocked applies the hysteresis bands to the current estimate. The
// middle band between (s2+hyst, fast-hyst] requests nothing.
func (m *Monitor) desiredLocked() (Target, bool) {
	switch {
	case m.avg <= m.cfg.S8Threshold+m.cfg.Hysteresis:
		return Target{PHY: link.PHYCoded, Coding: link.CodingS8}, true
	case m.avg <= m.cfg.S2Threshold+m.cfg.Hysteresis:
		return Target{PHY: link.PHYCoded, Coding: link.CodingS2}, true
	case m.avg > m.cfg.FastThreshold-m.cfg.Hysteresis:
		return Target{PHY: link.PHY2M}, true
	default:
		return Target{}, false
	}
}

// Estimate returns the current smoothed and raw RSSI for the status surface.
func (m *Monitor) Estimate() (avg, raw int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avg, m.raw
}
