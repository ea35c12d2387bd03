package mavlink

import (
	"bytes"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/pkg/errors"
)

// Encoder frames outgoing messages. Each Encode advances the sequence number.
// Changing Version or the ids after the first Encode restarts the sequence.
type Encoder struct {
	Version     int
	SystemID    uint8
	ComponentID uint8

	buf    bytes.Buffer
	writer *frame.Writer
	conf   Header
}

// NewEncoder returns a MAVLink 1 encoder, which every autopilot accepts.
func NewEncoder(systemID, componentID uint8) *Encoder {
	return &Encoder{
		Version:     1,
		SystemID:    systemID,
		ComponentID: componentID,
	}
}

func (e *Encoder) Encode(msg Message) ([]byte, error) {
	wire, ok := toWire(msg)
	if !ok {
		return nil, errors.Errorf("cannot encode message %d", msg.MsgID())
	}
	if err := e.setup(); err != nil {
		return nil, err
	}
	e.buf.Reset()
	if err := e.writer.WriteMessage(wire); err != nil {
		return nil, errors.Wrapf(err, "cannot encode message %d", msg.MsgID())
	}
	return bytes.Clone(e.buf.Bytes()), nil
}

func (e *Encoder) setup() error {
	conf := Header{Version: e.Version, SystemID: e.SystemID, ComponentID: e.ComponentID}
	if e.writer != nil && conf == e.conf {
		return nil
	}
	var version frame.WriterOutVersion
	switch e.Version {
	case 0, 1:
		version = frame.V1
	case 2:
		version = frame.V2
	default:
		return errors.Errorf("unsupported MAVLink version %d", e.Version)
	}
	w := &frame.Writer{
		ByteWriter:     &e.buf,
		DialectRW:      dialectRW,
		OutVersion:     version,
		OutSystemID:    e.SystemID,
		OutComponentID: e.ComponentID,
	}
	if err := w.Initialize(); err != nil {
		return errors.Wrap(err, "unable to set up frame writer")
	}
	e.writer = w
	e.conf = conf
	return nil
}
