package mavlink

import (
	"io"
	"iter"
	"sync/atomic"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/pkg/errors"
)

const (
	stxV1 = 0xfe
	stxV2 = 0xfd

	headerLenV1  = 6
	headerLenV2  = 10
	checksumLen  = 2
	signatureLen = 13
	flagSigned   = 0x01
)

// ErrProtocol marks a frame that failed its checksum or could not be parsed.
var ErrProtocol = errors.New("mavlink protocol error")

// Stats counts what a Decoder has seen. All counters only grow.
type Stats struct {
	Frames         uint64
	ProtocolErrors uint64
	Unknown        uint64
	SkippedBytes   uint64
}

// Decoder turns a byte stream into messages. Bytes are pushed in with Write
// in whatever chunks the transport delivers; complete messages are pulled out
// with Next or All. A Decoder is not safe for concurrent Write/Next, but
// Stats may be called from any goroutine.
type Decoder struct {
	buf  []byte
	last Header

	src    *frameSource
	reader *frame.Reader

	frames         atomic.Uint64
	protocolErrors atomic.Uint64
	unknown        atomic.Uint64
	skipped        atomic.Uint64
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.resetReader()
	return d
}

// frameSource hands the frame reader exactly one complete frame at a time,
// so a frame cut short by the transport never reaches it.
type frameSource struct {
	buf []byte
}

func (s *frameSource) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (d *Decoder) resetReader() {
	d.src = &frameSource{}
	d.reader = &frame.Reader{
		ByteReader: d.src,
		DialectRW:  dialectRW,
	}
	if err := d.reader.Initialize(); err != nil {
		panic(err)
	}
}

// Write buffers p for decoding. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// LastHeader returns the frame header of the message most recently returned
// by Next.
func (d *Decoder) LastHeader() Header {
	return d.last
}

func (d *Decoder) Stats() Stats {
	return Stats{
		Frames:         d.frames.Load(),
		ProtocolErrors: d.protocolErrors.Load(),
		Unknown:        d.unknown.Load(),
		SkippedBytes:   d.skipped.Load(),
	}
}

// Reset drops any partially received frame, e.g. after the port reopened.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.resetReader()
}

// All yields every message that can be decoded from the bytes buffered so
// far. Stopping early leaves the remaining bytes buffered.
func (d *Decoder) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for {
			msg, ok := d.Next()
			if !ok || !yield(msg) {
				return
			}
		}
	}
}

// Next returns the next complete message, or false when more bytes are
// needed. Corrupt frames are counted and skipped.
func (d *Decoder) Next() (Message, bool) {
	for {
		start := indexStart(d.buf)
		if start < 0 {
			d.discard(len(d.buf))
			return nil, false
		}
		d.discard(start)

		n, err := frameLen(d.buf)
		if err != nil {
			d.protocolErrors.Add(1)
			d.discard(1)
			continue
		}
		if n == 0 || len(d.buf) < n {
			return nil, false
		}

		d.src.buf = d.buf[:n]
		fr, err := d.reader.Read()
		if err != nil || len(d.src.buf) != 0 {
			// checksum, payload size or a short read; the reader may hold
			// part of the frame, so start over with a fresh one
			d.protocolErrors.Add(1)
			d.resetReader()
			d.discard(1)
			continue
		}
		d.buf = d.buf[n:]
		d.frames.Add(1)

		msg := fromWire(fr.GetMessage())
		if _, ok := msg.(Unknown); ok {
			d.unknown.Add(1)
		}
		d.last = header(fr)
		return msg, true
	}
}

func indexStart(buf []byte) int {
	for i, b := range buf {
		if b == stxV1 || b == stxV2 {
			return i
		}
	}
	return -1
}

func (d *Decoder) discard(n int) {
	if n <= 0 {
		return
	}
	d.skipped.Add(uint64(n))
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
}

// frameLen returns the length of the frame starting at buf[0], or 0 while
// its header is incomplete.
func frameLen(buf []byte) (int, error) {
	switch buf[0] {
	case stxV1:
		if len(buf) < headerLenV1 {
			return 0, nil
		}
		return headerLenV1 + int(buf[1]) + checksumLen, nil
	case stxV2:
		if len(buf) < headerLenV2 {
			return 0, nil
		}
		if buf[2]&^flagSigned != 0 {
			return 0, errors.Wrapf(ErrProtocol, "unsupported incompat flags %#x", buf[2])
		}
		n := headerLenV2 + int(buf[1]) + checksumLen
		if buf[2]&flagSigned != 0 {
			n += signatureLen
		}
		return n, nil
	}
	return 0, errors.Wrapf(ErrProtocol, "bad start byte %#x", buf[0])
}

func header(fr frame.Frame) Header {
	switch f := fr.(type) {
	case *frame.V1Frame:
		return Header{Version: 1, Sequence: f.SequenceNumber, SystemID: f.SystemID, ComponentID: f.ComponentID}
	case *frame.V2Frame:
		return Header{Version: 2, Sequence: f.SequenceNumber, SystemID: f.SystemID, ComponentID: f.ComponentID}
	}
	return Header{}
}
