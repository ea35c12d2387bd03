package gcslink

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gaziuzay/gcslink/mavlink"
	"github.com/stretchr/testify/require"
)

// portStub behaves like a serial port opened with a read timeout. Bytes
// queued with feed are returned by Read; when nothing is queued Read waits
// for the timeout and returns no data, or the repeat bytes if set.
type portStub struct {
	timeout time.Duration

	mu         sync.Mutex
	pending    []byte
	repeat     []byte
	written    []byte
	closeCount int
	dataChan   chan struct{}
	closeChan  chan struct{}
}

func createPortStub(timeout time.Duration, initial ...[]byte) *portStub {
	p := &portStub{
		timeout:   timeout,
		dataChan:  make(chan struct{}, 1),
		closeChan: make(chan struct{}),
	}
	for _, b := range initial {
		p.pending = append(p.pending, b...)
	}
	return p
}

func (p *portStub) feed(b []byte) {
	p.mu.Lock()
	p.pending = append(p.pending, b...)
	p.mu.Unlock()
	select {
	case p.dataChan <- struct{}{}:
	default:
	}
}

func (p *portStub) setRepeat(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = b
}

func (p *portStub) take(b []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n
}

func (p *portStub) Read(b []byte) (int, error) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		if n := p.take(b); n > 0 {
			return n, nil
		}
		select {
		case <-p.closeChan:
			return 0, io.ErrClosedPipe
		case <-p.dataChan:
			continue
		case <-timer.C:
		}
		break
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return copy(b, p.repeat), nil
}

func (p *portStub) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *portStub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	if p.closeCount == 1 {
		close(p.closeChan)
	}
	return nil
}

func (p *portStub) closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// writtenMessages decodes everything the link wrote to the port.
func (p *portStub) writtenMessages() []mavlink.Message {
	p.mu.Lock()
	dec := mavlink.NewDecoder()
	_, _ = dec.Write(p.written)
	p.mu.Unlock()
	var msgs []mavlink.Message
	for msg := range dec.All() {
		msgs = append(msgs, msg)
	}
	return msgs
}

type publisherStub struct {
	samples chan DerivedSample
}

func createPublisherStub() *publisherStub {
	return &publisherStub{samples: make(chan DerivedSample, 64)}
}

func (p *publisherStub) Publish(sample DerivedSample) {
	select {
	case p.samples <- sample:
	default:
	}
}

// frames encodes msgs as an autopilot with system 1, component 1 would.
func frames(t *testing.T, msgs ...mavlink.Message) []byte {
	t.Helper()
	enc := mavlink.NewEncoder(1, 1)
	var out []byte
	for _, msg := range msgs {
		b, err := enc.Encode(msg)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

// openerStub hands out the given ports in order and fails once they run out.
func openerStub(ports ...*portStub) (PortOpener, func() int) {
	var mu sync.Mutex
	calls := 0
	open := func(name string, baud int, readTimeout time.Duration) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if len(ports) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		p := ports[0]
		ports = ports[1:]
		return p, nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	return open, count
}

// contextStub counts the cancelable contexts derived from it that are still
// registered for its cancellation.
type contextStub struct {
	context.Context

	mu   sync.Mutex
	live int
}

func createContextStub(parent context.Context) *contextStub {
	return &contextStub{Context: parent}
}

// Value hides the embedded context so that derived contexts register
// through AfterFunc.
func (c *contextStub) Value(key any) any {
	return nil
}

func (c *contextStub) AfterFunc(f func()) func() bool {
	c.mu.Lock()
	c.live++
	c.mu.Unlock()
	stop := context.AfterFunc(c.Context, f)
	var once sync.Once
	return func() bool {
		once.Do(func() {
			c.mu.Lock()
			c.live--
			c.mu.Unlock()
		})
		return stop()
	}
}

func (c *contextStub) children() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}
