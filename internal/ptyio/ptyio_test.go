//go:build linux || darwin

package ptyio

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPair(t *testing.T) (*PTY, *os.File) {
	t.Helper()
	p, err := Open(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	user, err := os.OpenFile(p.Name(), os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { user.Close() })
	return p, user
}

// readAll polls the non-blocking reader until want bytes arrive or the
// deadline passes.
func readAll(t *testing.T, p *PTY, want int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(3 * time.Second)
	for len(out) < want && time.Now().Before(deadline) {
		n, err := p.Read(buf)
		require.NoError(t, err)
		out = append(out, buf[:n]...)
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return out
}

func TestNameLooksLikeDevice(t *testing.T) {
	p, err := Open(Options{})
	require.NoError(t, err)
	defer p.Close()

	assert.NotEmpty(t, p.Name())
}

func TestUserToBridge(t *testing.T) {
	p, user := openPair(t)

	_, err := user.Write([]byte("typed input"))
	require.NoError(t, err)

	got := readAll(t, p, len("typed input"))
	assert.Equal(t, "typed input", string(got))
	assert.GreaterOrEqual(t, p.Stats().BytesRead, uint64(len("typed input")))
}

func TestBridgeToUser(t *testing.T) {
	p, user := openPair(t)

	n, err := p.Write([]byte("from the link\n"))
	require.NoError(t, err)
	require.Equal(t, 14, n)

	buf := make([]byte, 64)
	total := 0
	for total < 14 {
		rn, err := user.Read(buf[total:])
		require.NoError(t, err)
		total += rn
	}
	// Raw mode: the newline passes through untranslated.
	assert.Equal(t, "from the link\n", string(buf[:total]))
}

func TestReadEmptyIsNonBlocking(t *testing.T) {
	p, _ := openPair(t)

	start := time.Now()
	n, err := p.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCloseIsIdempotent(t *testing.T) {
	p, err := Open(Options{})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())

	_, err = p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = p.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
