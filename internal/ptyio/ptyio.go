// Package ptyio exposes a pseudo-terminal as a pair of non-blocking byte
// queues, so the bridge command can present the paced BLE port as a local
// tty device.
//
// Open creates a master/slave pair with github.com/creack/pty. An external
// program opens the slave path (e.g. /dev/pts/5) like a serial device; this
// package pumps the master side with poll loops into ring buffers. Read and
// Write never block, which lets the bridge drive them from the same tick
// loop that pumps the BLE port.
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeoutMs bounds how long the pump goroutines sleep in poll
// before rechecking for shutdown.
const DefaultPollTimeoutMs = 50

// Options configures Open. Zero fields get defaults.
type Options struct {
	ReadCap       int // ring capacity for bytes arriving from the tty user
	WriteCap      int // ring capacity for bytes headed to the tty user
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Stats holds the pump counters for monitoring.
type Stats struct {
	ReadPending  int
	WritePending int
	BytesRead    uint64
	BytesWritten uint64
	DroppedRead  uint64 // bytes from the tty lost to a full read ring
	DroppedWrite uint64 // bytes to the tty lost to a full write ring
}

// PTY is one pseudo-terminal endpoint. All methods are safe for concurrent
// use; Read and Write never block.
type PTY struct {
	log     *logrus.Logger
	master  *os.File
	slave   *os.File
	name    string
	pollMs  int
	readBuf *ringbuffer.RingBuffer // tty user -> bridge
	sendBuf *ringbuffer.RingBuffer // bridge -> tty user

	done   chan struct{}
	wg     sync.WaitGroup
	closed uint32

	bytesRead    uint64
	bytesWritten uint64
	droppedRead  uint64
	droppedWrite uint64
}

// Open creates the pair, puts the slave in raw mode, and starts the pump
// goroutines. The returned PTY must be closed to release both descriptors.
func Open(opts Options) (*PTY, error) {
	if opts.ReadCap == 0 {
		opts.ReadCap = 4096
	}
	if opts.WriteCap == 0 {
		opts.WriteCap = 4096
	}
	if opts.PollTimeoutMs == 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("creating pty pair: %w", err)
	}
	if err := makeRaw(int(slave.Fd())); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("raw mode on %s: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("nonblocking master: %w", err)
	}

	p := &PTY{
		log:     opts.Logger,
		master:  master,
		slave:   slave, // kept open so the device node survives user churn
		name:    slave.Name(),
		pollMs:  opts.PollTimeoutMs,
		readBuf: ringbuffer.New(opts.ReadCap),
		sendBuf: ringbuffer.New(opts.WriteCap),
		done:    make(chan struct{}),
	}

	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

// Name returns the slave device path.
func (p *PTY) Name() string { return p.name }

// Read copies bytes the tty user has typed. Never blocks; returns 0, nil
// when nothing is buffered.
func (p *PTY) Read(b []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return n, err
	}
	return n, nil
}

// Write queues bytes to appear on the tty. Never blocks; when the ring is
// full the overflow is dropped and the shortfall shows in the return count.
func (p *PTY) Write(b []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.sendBuf.Write(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(b) {
		atomic.AddUint64(&p.droppedWrite, uint64(len(b)-n))
		p.log.WithField("dropped", len(b)-n).Warn("tty write ring full")
	}
	return n, nil
}

// Stats returns the current pump counters.
func (p *PTY) Stats() Stats {
	return Stats{
		ReadPending:  p.readBuf.Length(),
		WritePending: p.sendBuf.Length(),
		BytesRead:    atomic.LoadUint64(&p.bytesRead),
		BytesWritten: atomic.LoadUint64(&p.bytesWritten),
		DroppedRead:  atomic.LoadUint64(&p.droppedRead),
		DroppedWrite: atomic.LoadUint64(&p.droppedWrite),
	}
}

// Close stops the pumps and closes both descriptors.
func (p *PTY) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}
	close(p.done)
	// Closing the master makes blocked pump I/O fail with EBADF so both
	// loops exit within one poll timeout.
	err := p.master.Close()
	if serr := p.slave.Close(); err == nil {
		err = serr
	}
	p.wg.Wait()
	return err
}

// readLoop pumps master -> readBuf.
func (p *PTY) readLoop() {
	defer p.wg.Done()

	fd := int32(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		nReady, err := unix.Poll(pollFd, p.pollMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.log.WithError(err).Warn("pty read poll failed")
		}
		if nReady == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			written, werr := p.readBuf.Write(buf[:n])
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				p.log.WithError(werr).Warn("pty read ring write failed")
			}
			if written < n {
				atomic.AddUint64(&p.droppedRead, uint64(n-written))
				p.log.WithField("dropped", n-written).Warn("tty read ring full")
			}
			atomic.AddUint64(&p.bytesRead, uint64(written))
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF),
				errors.Is(err, os.ErrClosed):
				return
			default:
				// On Linux, reading the master fails with EIO while no
				// process holds the slave open; treat it as idle.
				if errors.Is(err, syscall.EIO) {
					continue
				}
				p.log.WithError(err).Warn("pty read failed")
				return
			}
		}
	}
}

// writeLoop pumps sendBuf -> master.
func (p *PTY) writeLoop() {
	defer p.wg.Done()

	fd := int32(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: fd, Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if p.sendBuf.IsEmpty() {
			if _, err := unix.Poll(pollFd, p.pollMs); err != nil && !errors.Is(err, syscall.EINTR) {
				p.log.WithError(err).Warn("pty write poll failed")
			}
			continue
		}

		n, err := p.sendBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.log.WithError(err).Warn("pty write ring read failed")
			continue
		}

		offset := 0
		for offset < n {
			written, werr := p.master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&p.bytesWritten, uint64(written))
			}
			if werr == nil {
				continue
			}
			switch {
			case errors.Is(werr, syscall.EINTR):
				continue
			case errors.Is(werr, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, p.pollMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.log.WithError(perr).Warn("pty write poll failed")
				}
				continue
			case errors.Is(werr, syscall.EBADF), errors.Is(werr, os.ErrClosed):
				return
			default:
				p.log.WithError(werr).Warn("pty write failed")
				return
			}
		}
	}
}
