package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  bool
	}{
		{name: "power of two", capacity: 16, wantErr: false},
		{name: "one", capacity: 1, wantErr: false},
		{name: "large power of two", capacity: 4096, wantErr: false},
		{name: "zero", capacity: 0, wantErr: true},
		{name: "negative", capacity: -8, wantErr: true},
		{name: "not power of two", capacity: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.capacity)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.capacity, b.Capacity())
			assert.Equal(t, 0, b.Available())
		})
	}
}

func TestPushPopFIFO(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)

	written, discarded := b.Push([]byte("hello"), false)
	assert.Equal(t, 5, written)
	assert.Equal(t, 0, discarded)
	assert.Equal(t, 5, b.Available())
	assert.Equal(t, 11, b.Free())

	out := make([]byte, 5)
	assert.Equal(t, 5, b.Pop(out))
	assert.Equal(t, []byte("hello"), out)
	assert.Equal(t, 0, b.Available())
}

func TestPushRejectsWhenFullWithoutOverwrite(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)

	written, _ := b.Push([]byte("123456"), false)
	require.Equal(t, 6, written)

	// 3 bytes do not fit into the remaining 2: all-or-nothing.
	written, discarded := b.Push([]byte("abc"), false)
	assert.Equal(t, 0, written)
	assert.Equal(t, 0, discarded)
	assert.Equal(t, 6, b.Available())
}

// Scenario: capacity-16 ring, push 20 bytes with overwrite. The push reports
// all 20 written, the ring holds 16, and the oldest 4 of the 20 are lost.
func TestPushOverwriteLargerThanCapacity(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}

	written, discarded := b.Push(data, true)
	assert.Equal(t, 20, written)
	assert.Equal(t, 4, discarded)
	assert.Equal(t, 16, b.Available())

	out := make([]byte, 16)
	require.Equal(t, 16, b.Pop(out))
	assert.Equal(t, data[4:], out)
}

func TestPushOverwriteDiscardsExactlyOverflow(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)

	b.Push([]byte("0123456789"), false) // 10 bytes, 6 free

	written, discarded := b.Push([]byte("ABCDEFGHIJ"), true) // needs 4 more
	assert.Equal(t, 10, written)
	assert.Equal(t, 4, discarded)
	assert.Equal(t, 16, b.Available())

	out := make([]byte, 16)
	require.Equal(t, 16, b.Pop(out))
	assert.Equal(t, []byte("456789ABCDEFGHIJ"), out)
}

func TestWraparoundSplitCopies(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)

	// Advance head/tail so the next bulk write wraps.
	b.Push([]byte("abcdef"), false)
	out := make([]byte, 4)
	require.Equal(t, 4, b.Pop(out))

	written, _ := b.Push([]byte("123456"), false)
	require.Equal(t, 6, written)
	assert.Equal(t, 8, b.Available())

	got := make([]byte, 8)
	require.Equal(t, 8, b.Pop(got))
	assert.Equal(t, []byte("ef123456"), got)
}

func TestPeekThenConsumeEqualsPop(t *testing.T) {
	mk := func() *Buffer {
		b, err := New(32)
		require.NoError(t, err)
		b.Push([]byte("pacing engine test"), false)
		return b
	}

	popped := make([]byte, 6)
	b1 := mk()
	require.Equal(t, 6, b1.Pop(popped))

	peeked := make([]byte, 6)
	b2 := mk()
	require.Equal(t, 6, b2.Peek(peeked))
	require.Equal(t, 6, b2.Consume(6))

	assert.True(t, bytes.Equal(popped, peeked))
	assert.Equal(t, b1.Available(), b2.Available())

	rest1 := make([]byte, 32)
	rest2 := make([]byte, 32)
	n1 := b1.Pop(rest1)
	n2 := b2.Pop(rest2)
	assert.Equal(t, n1, n2)
	assert.Equal(t, rest1[:n1], rest2[:n2])
}

func TestPeekDoesNotRemove(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	b.Push([]byte("abc"), false)

	p := make([]byte, 3)
	assert.Equal(t, 3, b.Peek(p))
	assert.Equal(t, 3, b.Available())
	assert.Equal(t, 3, b.Peek(p))
	assert.Equal(t, []byte("abc"), p)
}

func TestPopThenPeekReturnsNothing(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	b.Push([]byte("xy"), false)

	p := make([]byte, 2)
	require.Equal(t, 2, b.Pop(p))
	assert.Equal(t, 0, b.Peek(p))
}

func TestConsumeClampsToOccupancy(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	b.Push([]byte("1234"), false)

	assert.Equal(t, 4, b.Consume(100))
	assert.Equal(t, 0, b.Available())
	assert.Equal(t, 0, b.Consume(1))
}

func TestClear(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	b.Push([]byte("data"), false)
	b.Clear()
	assert.Equal(t, 0, b.Available())
	assert.Equal(t, 16, b.Free())
}

// Occupancy never exceeds capacity across a mixed operation sequence.
func TestOccupancyInvariant(t *testing.T) {
	b, err := New(64)
	require.NoError(t, err)

	chunk := make([]byte, 23)
	out := make([]byte, 17)
	for i := 0; i < 200; i++ {
		b.Push(chunk, true)
		assert.LessOrEqual(t, b.Available(), b.Capacity())
		if i%3 == 0 {
			b.Pop(out)
		}
		if i%7 == 0 {
			n := b.Peek(out)
			b.Consume(n)
		}
		assert.LessOrEqual(t, b.Available(), b.Capacity())
		assert.GreaterOrEqual(t, b.Available(), 0)
	}
}
