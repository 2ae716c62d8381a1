// Package ring provides a fixed-capacity circular byte buffer shared between
// a producer context and the transmit pump.
//
// The buffer supports the staging pattern used by the pacing engine: a frame
// is Peek'ed (copied out, not removed) before a send attempt, and Consume'd
// only once the transport confirms delivery. A failed send leaves the bytes
// in place so the frame can be restaged, possibly at a different size.
//
// Capacity must be a power of two so index arithmetic reduces to a mask.
// Every operation runs inside a short critical section and never blocks
// while holding it.
package ring

import (
	"fmt"
	"sync"
)

// Buffer is a power-of-two circular byte buffer.
//
// Push with overwrite discards the oldest bytes to make room and reports how
// many were lost, which the owner uses for drop accounting.
type Buffer struct {
	mu    sync.Mutex
	buf   []byte
	head  int // next write position
	tail  int // next read position
	count int
	mask  int
}

// New creates a Buffer with the given capacity.
// Capacity must be a positive power of two.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring: capacity %d is not a positive power of two", capacity)
	}
	return &Buffer{
		buf:  make([]byte, capacity),
		mask: capacity - 1,
	}, nil
}

// Push appends p to the buffer.
//
// With overwrite=false it is all-or-nothing: if p does not fit in the free
// space, nothing is written and (0, 0) is returned.
//
// With overwrite=true the push always succeeds: the oldest bytes are
// discarded to make room and the discarded count is returned alongside
// len(p). If p is larger than the capacity only its newest capacity bytes
// are kept; the excess counts as discarded too.
func (b *Buffer) Push(p []byte, overwrite bool) (written, discarded int) {
	if len(p) == 0 {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	free := len(b.buf) - b.count
	if len(p) > free && !overwrite {
		return 0, 0
	}

	written = len(p)
	src := p
	if len(src) > len(b.buf) {
		// Only the newest capacity bytes survive.
		discarded += len(src) - len(b.buf)
		src = src[len(src)-len(b.buf):]
		free = len(b.buf) - b.count
	}
	if len(src) > free {
		// Advance tail over the oldest bytes to make room.
		overflow := len(src) - free
		b.tail = (b.tail + overflow) & b.mask
		b.count -= overflow
		discarded += overflow
	}

	first := len(b.buf) - b.head
	if first > len(src) {
		first = len(src)
	}
	copy(b.buf[b.head:], src[:first])
	if second := len(src) - first; second > 0 {
		copy(b.buf, src[first:])
	}
	b.head = (b.head + len(src)) & b.mask
	b.count += len(src)
	return written, discarded
}

// Pop removes up to len(p) bytes in FIFO order and returns how many were
// copied into p. Returns 0 when empty.
func (b *Buffer) Pop(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.copyOut(p)
	b.discard(n)
	return n
}

// Peek copies up to len(p) bytes into p without removing them.
func (b *Buffer) Peek(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyOut(p)
}

// Consume removes up to n bytes that were previously inspected via Peek,
// without copying. Returns the number of bytes actually removed.
func (b *Buffer) Consume(n int) int {
	if n <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.count {
		n = b.count
	}
	b.discard(n)
	return n
}

// Available returns the current occupancy in bytes.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Free returns the number of bytes that can be pushed without overwriting.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) - b.count
}

// Capacity returns the fixed capacity of the buffer.
func (b *Buffer) Capacity() int {
	return len(b.buf)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.tail, b.count = 0, 0, 0
}

// copyOut copies up to len(p) bytes from tail into p and returns the count.
// Caller must hold b.mu.
func (b *Buffer) copyOut(p []byte) int {
	n := len(p)
	if n > b.count {
		n = b.count
	}
	if n == 0 {
		return 0
	}
	first := len(b.buf) - b.tail
	if first > n {
		first = n
	}
	copy(p, b.buf[b.tail:b.tail+first])
	if second := n - first; second > 0 {
		copy(p[first:], b.buf[:second])
	}
	return n
}

// discard advances tail by n bytes. When the buffer drains completely the
// indices reset to zero, which keeps wrap reasoning simple.
// Caller must hold b.mu.
func (b *Buffer) discard(n int) {
	b.tail = (b.tail + n) & b.mask
	b.count -= n
	if b.count == 0 {
		b.head, b.tail = 0, 0
	}
}
