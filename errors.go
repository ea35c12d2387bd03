package gcslink

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrPortUnavailable  = errors.New("port unavailable")
	ErrHeartbeatTimeout = errors.New("no heartbeat received")
	ErrUnsubscribed     = errors.New("subscription closed")
	ErrAlreadyStarted   = errors.New("link already started")

	errDegraded = errors.New("link degraded")
)

// ValidationError explains why a decoded message did not produce a sample.
type ValidationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
