package forwarder

import (
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gaziuzay/gcslink"
	"github.com/pkg/errors"
)

// PositionLog appends one "lat, lon, alt" line per accepted position.
type PositionLog struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewPositionLog opens path for appending, creating it if needed.
func NewPositionLog(path string) (*PositionLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open position log %s", path)
	}
	return &PositionLog{w: f, c: f}, nil
}

// NewPositionLogWriter logs to w, which is not closed.
func NewPositionLogWriter(w io.Writer) *PositionLog {
	return &PositionLog{w: w}
}

func (p *PositionLog) Name() string {
	return "position-log"
}

func (p *PositionLog) Kinds() []gcslink.SampleKind {
	return []gcslink.SampleKind{gcslink.KindPosition}
}

func (p *PositionLog) Forward(sample gcslink.DerivedSample) error {
	pos, ok := sample.(gcslink.Position)
	if !ok {
		return nil
	}
	line := formatFloat(pos.Lat) + ", " + formatFloat(pos.Lon) + ", " + formatFloat(pos.AltM) + "\n"

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, line); err != nil {
		return errors.Wrap(err, "unable to write position log")
	}
	return nil
}

func (p *PositionLog) Close() error {
	if p.c == nil {
		return nil
	}
	return p.c.Close()
}

// formatFloat prints the shortest representation that reads back as v,
// always with a fractional part or exponent: 40 is "40.0", 1e-05 stays
// "1e-05".
func formatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
