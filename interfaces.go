package gcslink

import (
	"io"
	"time"
)

// Port is a byte transport to the flight controller. Read must return within
// the read timeout the port was opened with: either data, or no data with a
// nil error, io.EOF, or an error whose Timeout method reports true.
type Port interface {
	io.ReadWriteCloser
}

// PortOpener opens a named port at the given baud rate with bounded reads.
type PortOpener func(name string, baud int, readTimeout time.Duration) (Port, error)

type Publisher interface {
	Publish(DerivedSample)
}

// Forwarder consumes samples on its own subscription, e.g. to log or relay
// them. Forward errors are logged and never stop delivery.
type Forwarder interface {
	Name() string
	Kinds() []SampleKind
	Forward(DerivedSample) error
}
