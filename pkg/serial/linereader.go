package serial

import "bytes"

// byteSource is the read surface LineReader consumes; satisfied by *Port.
type byteSource interface {
	Read(b []byte) (int, error)
}

// LineReader assembles CR/LF-terminated lines from a non-blocking byte
// source. A lone CR, a lone LF, and a CRLF pair each terminate one line;
// the CR of a CRLF pair swallows the following LF so the pair does not
// produce an empty extra line.
type LineReader struct {
	src     byteSource
	maxLine int

	partial  bytes.Buffer
	done     []string
	sawCR    bool
	overflow bool

	// Truncations counts lines cut short because they exceeded the limit.
	Truncations uint64
}

// NewLineReader wraps a source with a maximum line length; longer lines are
// truncated to maxLine bytes (the overflow up to the terminator is dropped).
func NewLineReader(src byteSource, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = 512
	}
	return &LineReader{src: src, maxLine: maxLine}
}

// Next returns the next complete line without its terminator. It never
// blocks: when no full line is available yet it returns ("", false).
func (r *LineReader) Next() (string, bool) {
	var buf [64]byte
	for {
		if len(r.done) > 0 {
			line := r.done[0]
			r.done = r.done[1:]
			return line, true
		}
		n, err := r.src.Read(buf[:])
		if n == 0 || err != nil {
			return "", false
		}
		for _, c := range buf[:n] {
			r.feed(c)
		}
	}
}

func (r *LineReader) feed(c byte) {
	if r.sawCR {
		r.sawCR = false
		if c == '\n' {
			return // second half of CRLF
		}
	}
	switch c {
	case '\r':
		r.sawCR = true
		r.finishLine()
	case '\n':
		r.finishLine()
	default:
		if r.partial.Len() >= r.maxLine {
			if !r.overflow {
				r.overflow = true
				r.Truncations++
			}
			return
		}
		r.partial.WriteByte(c)
	}
}

func (r *LineReader) finishLine() {
	r.done = append(r.done, r.partial.String())
	r.partial.Reset()
	r.overflow = false
}
