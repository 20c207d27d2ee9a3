// Package uwb recovers ranging/bearing reports from a UWB tag's serial byte
// stream and decodes them into physical angle and distance values.
package uwb

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"sync/atomic"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
)

// Wire frame layout. All offsets are 0-based.
const (
	FrameLen = 31

	StartMarker byte = 0x2A
	EndMarker   byte = 0x23

	offsetAddress  = 3 // 2 bytes, big-endian
	offsetAngle    = 5 // 1 byte
	offsetSign     = 6 // 3 bytes, all 0xFF or all 0x00
	offsetDistance = 9 // 4 bytes, little-endian
)

// ErrShortFrame is returned by ParseFrame for input of the wrong length.
var ErrShortFrame = errors.New("uwb: frame must be exactly 31 bytes")

// RawFrame is one delimited report as it came off the wire.
type RawFrame [FrameLen]byte

// Bounded reports whether the start and end markers are in place.
func (f RawFrame) Bounded() bool {
	return f[0] == StartMarker && f[FrameLen-1] == EndMarker
}

func (f RawFrame) String() string {
	return hex.EncodeToString(f[:])
}

// ParseFrame copies b into a RawFrame. It does not check the markers.
func ParseFrame(b []byte) (RawFrame, error) {
	var f RawFrame
	if len(b) != FrameLen {
		return f, ErrShortFrame
	}
	copy(f[:], b)
	return f, nil
}

// InputResetter is implemented by ports that can discard bytes the OS has
// already buffered (go.bug.st/serial.Port does).
type InputResetter interface {
	ResetInputBuffer() error
}

// ReaderStats counts framing outcomes since the reader was created.
type ReaderStats struct {
	Frames       uint64 `json:"frames"`
	SkippedBytes uint64 `json:"skipped_bytes"`
	Overflows    uint64 `json:"overflows"`
	ReadErrors   uint64 `json:"read_errors"`
}

// FrameReader turns a raw byte source into marker-bounded frames.
//
// When the buffer head is not a bounded frame the reader advances a single
// byte and retries, so one corrupted frame cannot desynchronise the stream.
// If more than a frame's worth of bytes is skipped without finding a
// boundary, everything buffered is dropped (and the port's OS buffer too,
// when it supports that) and framing restarts on fresh input: stale bytes
// are not worth recovering.
//
// A FrameReader is not safe for concurrent calls to Next; Stats may be
// called from any goroutine.
type FrameReader struct {
	r       io.Reader
	buf     []byte
	chunk   []byte
	skipped int
	err     error // read error deferred until buffered frames are drained

	frames       atomic.Uint64
	skippedBytes atomic.Uint64
	overflows    atomic.Uint64
	readErrors   atomic.Uint64
}

// NewFrameReader wraps r. Reads that return no data and no error (a serial
// read timeout) are treated as "nothing yet" and simply retried.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:     r,
		buf:   make([]byte, 0, 4*FrameLen),
		chunk: make([]byte, 2*FrameLen),
	}
}

// Next blocks until a bounded frame is available, the source fails, or ctx
// is done. The context is only observed between reads, so a source without
// a read timeout can delay cancellation until its next read returns.
func (fr *FrameReader) Next(ctx context.Context) (RawFrame, error) {
	for {
		if f, ok := fr.scan(); ok {
			return f, nil
		}
		if fr.err != nil {
			err := fr.err
			fr.err = nil
			return RawFrame{}, err
		}

		if err := ctx.Err(); err != nil {
			return RawFrame{}, err
		}

		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			fr.buf = append(fr.buf, fr.chunk[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fr.readErrors.Add(1)
			}
			fr.err = err
		}
	}
}

// scan consumes buffered bytes until it finds a bounded frame or runs out of
// whole frames to test.
func (fr *FrameReader) scan() (RawFrame, bool) {
	for len(fr.buf) >= FrameLen {
		if fr.buf[0] == StartMarker && fr.buf[FrameLen-1] == EndMarker {
			var f RawFrame
			copy(f[:], fr.buf[:FrameLen])
			fr.consume(FrameLen)
			fr.skipped = 0
			fr.frames.Add(1)
			return f, true
		}

		fr.consume(1)
		fr.skipped++
		fr.skippedBytes.Add(1)
		if fr.skipped > FrameLen {
			fr.overflow()
		}
	}
	return RawFrame{}, false
}

func (fr *FrameReader) overflow() {
	monitoring.Debugf("uwb: no frame boundary in %d bytes, dropping %d buffered bytes", fr.skipped, len(fr.buf))
	fr.buf = fr.buf[:0]
	fr.skipped = 0
	fr.overflows.Add(1)
	if rr, ok := fr.r.(InputResetter); ok {
		if err := rr.ResetInputBuffer(); err != nil {
			monitoring.Logf("uwb: failed to reset input buffer: %v", err)
		}
	}
}

// consume drops n bytes from the head of the buffer, compacting in place so
// the backing array does not creep forward.
func (fr *FrameReader) consume(n int) {
	remaining := copy(fr.buf, fr.buf[n:])
	fr.buf = fr.buf[:remaining]
}

// Buffered returns the number of bytes read but not yet framed.
func (fr *FrameReader) Buffered() int {
	return len(fr.buf)
}

// Stats returns a snapshot of the framing counters.
func (fr *FrameReader) Stats() ReaderStats {
	return ReaderStats{
		Frames:       fr.frames.Load(),
		SkippedBytes: fr.skippedBytes.Load(),
		Overflows:    fr.overflows.Load(),
		ReadErrors:   fr.readErrors.Load(),
	}
}
