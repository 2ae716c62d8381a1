package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndDrain(t *testing.T) {
	r := NewRecorder(16)

	r.Note(KindProbeStart, 2000, 244)
	r.Note(KindProbeAccept, 1950, 244)

	events := r.Drain()
	assert.Len(t, events, 2)
	assert.Equal(t, KindProbeStart, events[0].Kind)
	assert.Equal(t, int64(2000), events[0].IntervalUs)
	assert.Equal(t, KindProbeAccept, events[1].Kind)

	assert.Empty(t, r.Drain())
	assert.Equal(t, uint64(2), r.Recorded())
}

func TestOverwriteOldestWhenFull(t *testing.T) {
	r := NewRecorder(4)

	for i := 0; i < 20; i++ {
		r.Note(KindBackoff, int64(i), 20)
	}

	events := r.Drain()
	assert.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 4)
	assert.Equal(t, uint64(20), r.Recorded())
	assert.Greater(t, r.Overwritten(), uint64(0))

	// The survivors are the newest entries, in order.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].IntervalUs, events[i-1].IntervalUs)
	}
}
