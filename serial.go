package gcslink

import (
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// termios VTIME counts tenths of a second in a single byte.
const (
	vtimeUnit = 100 * time.Millisecond
	vtimeMax  = 255 * vtimeUnit
)

// serialOpen is swapped out by tests and test mode.
var serialOpen PortOpener = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	if baud <= 0 {
		return nil, errors.Errorf("invalid baud rate %d", baud)
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:   name,
		BaudRate:   uint(baud),
		DataBits:   8,
		StopBits:   1,
		ParityMode: serial.PARITY_NONE,
		// no minimum read size: reads return when data arrives or the
		// inter-character timeout expires
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(serialTimeout(readTimeout) / time.Millisecond),
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

func serialTimeout(d time.Duration) time.Duration {
	if d < vtimeUnit {
		return vtimeUnit
	}
	d = (d + vtimeUnit - 1) / vtimeUnit * vtimeUnit
	if d > vtimeMax {
		return vtimeMax
	}
	return d
}
