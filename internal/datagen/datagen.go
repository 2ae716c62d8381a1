// Package datagen produces the sample data streams used by the simulate
// command: a sine sweep and a random-walk environmental sensor feed, both
// emitted as CR/LF-terminated text lines like a typical serial peripheral.
package datagen

import (
	"fmt"
	"math"
	"math/rand"
)

// Generator emits one line per call, terminator included.
type Generator interface {
	NextLine() []byte
}

// Sine emits "<t_ms>,<value>" samples of a sine wave.
type Sine struct {
	Amplitude float64
	Frequency float64 // Hz
	Rate      float64 // samples per second

	n uint64
}

// NewSine creates a sine generator; zero fields get usable defaults.
func NewSine(amplitude, frequency, rate float64) *Sine {
	if amplitude == 0 {
		amplitude = 100
	}
	if frequency == 0 {
		frequency = 1
	}
	if rate == 0 {
		rate = 100
	}
	return &Sine{Amplitude: amplitude, Frequency: frequency, Rate: rate}
}

func (s *Sine) NextLine() []byte {
	t := float64(s.n) / s.Rate
	v := s.Amplitude * math.Sin(2*math.Pi*s.Frequency*t)
	s.n++
	return []byte(fmt.Sprintf("%d,%.3f\r\n", uint64(t*1000), v))
}

// Environmental emits "T=<c>C H=<pct>%% P=<hpa>hPa" readings that drift by a
// bounded random walk, the way a slow sensor peripheral reports.
type Environmental struct {
	rng         *rand.Rand
	temperature float64
	humidity    float64
	pressure    float64
}

// NewEnvironmental creates a sensor feed; the seed makes runs reproducible.
func NewEnvironmental(seed int64) *Environmental {
	return &Environmental{
		rng:         rand.New(rand.NewSource(seed)),
		temperature: 21.5,
		humidity:    45.0,
		pressure:    1013.2,
	}
}

func (e *Environmental) NextLine() []byte {
	e.temperature = clampWalk(e.temperature, e.rng, 0.1, -10, 45)
	e.humidity = clampWalk(e.humidity, e.rng, 0.5, 5, 95)
	e.pressure = clampWalk(e.pressure, e.rng, 0.3, 950, 1060)
	return []byte(fmt.Sprintf("T=%.1fC H=%.1f%% P=%.1fhPa\r\n",
		e.temperature, e.humidity, e.pressure))
}

func clampWalk(v float64, rng *rand.Rand, step, lo, hi float64) float64 {
	v += (rng.Float64()*2 - 1) * step
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}
