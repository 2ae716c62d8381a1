// Package flow implements the watermark gate between the data producer and
// the transmit ring.
//
// The gate is advisory: it never rejects ring operations itself. Producers
// check IsOpen before pushing so buffering stays bounded without stalling
// the pump. The gate closes once occupancy reaches the high watermark and
// reopens only after occupancy falls back to the low watermark, which keeps
// the producer from flapping around a single threshold.
package flow

import "sync"

// Gate tracks buffer occupancy against two watermarks.
//
// The high watermark is a fixed fraction of the capacity; the low watermark
// tracks the current chunk size and must be recomputed whenever the chunk
// size changes.
type Gate struct {
	mu       sync.Mutex
	capacity int
	low      int
	high     int
	open     bool
}

// NewGate creates an open gate over a buffer of the given capacity.
// The low watermark starts at one chunk of chunkSize.
func NewGate(capacity, chunkSize int) *Gate {
	g := &Gate{
		capacity: capacity,
		high:     capacity * 3 / 4,
		open:     true,
	}
	g.Recompute(chunkSize)
	return g
}

// Recompute derives the low watermark from the chunk size: up to two
// outbound chunks, capped at a quarter of the capacity, never below one
// chunk. The high watermark is independent of the chunk size.
func (g *Gate) Recompute(chunkSize int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	low := 2 * chunkSize
	if cap4 := g.capacity / 4; low > cap4 {
		low = cap4
	}
	if low < chunkSize {
		low = chunkSize
	}
	g.low = low
}

// Observe updates the gate from the current buffer occupancy.
// Returns true if the open/closed state changed.
func (g *Gate) Observe(occupancy int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.open && occupancy >= g.high:
		g.open = false
		return true
	case !g.open && occupancy <= g.low:
		g.open = true
		return true
	}
	return false
}

// IsOpen reports whether the producer may push more data.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Low returns the low watermark in bytes.
func (g *Gate) Low() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.low
}

// High returns the high watermark in bytes.
func (g *Gate) High() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.high
}
