package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatermarks(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		chunk    int
		wantLow  int
		wantHigh int
	}{
		{
			name:     "two chunks below quarter capacity",
			capacity: 4096,
			chunk:    244,
			wantLow:  488,
			wantHigh: 3072,
		},
		{
			name:     "capped at quarter capacity",
			capacity: 1024,
			chunk:    200,
			wantLow:  256,
			wantHigh: 768,
		},
		{
			name:     "never below one chunk",
			capacity: 64,
			chunk:    20,
			wantLow:  20, // 2*20=40 > 64/4=16, floor back to one chunk
			wantHigh: 48,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.capacity, tt.chunk)
			assert.Equal(t, tt.wantLow, g.Low())
			assert.Equal(t, tt.wantHigh, g.High())
		})
	}
}

func TestGateHysteresis(t *testing.T) {
	g := NewGate(4096, 244) // low 488, high 3072
	assert.True(t, g.IsOpen())

	// Rising occupancy below high keeps the gate open.
	assert.False(t, g.Observe(3000))
	assert.True(t, g.IsOpen())

	// Reaching high closes it.
	assert.True(t, g.Observe(3072))
	assert.False(t, g.IsOpen())

	// Draining into the dead band does not reopen.
	assert.False(t, g.Observe(1000))
	assert.False(t, g.IsOpen())

	// Falling to low reopens.
	assert.True(t, g.Observe(488))
	assert.True(t, g.IsOpen())

	// Repeated observations in the open band are no-ops.
	assert.False(t, g.Observe(100))
	assert.True(t, g.IsOpen())
}

func TestRecomputeTracksChunkSize(t *testing.T) {
	g := NewGate(4096, 244)
	assert.Equal(t, 488, g.Low())

	// Oversize recovery halves the chunk; low watermark follows.
	g.Recompute(122)
	assert.Equal(t, 244, g.Low())
	assert.Equal(t, 3072, g.High(), "high watermark is independent of chunk size")

	g.Recompute(20)
	assert.Equal(t, 40, g.Low())
}
