package gcslink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// Station ties the link, the dispatcher and the registered forwarders
// together. It is the surface the CLI and the feed work against.
type Station struct {
	cfg        Config
	dispatcher *Dispatcher
	link       *Link

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	testMode   bool
	forwarders []*forwarding
	wg         sync.WaitGroup

	forwardErrors atomic.Uint64
}

type forwarding struct {
	fwd Forwarder
	sub *Subscription
}

func NewStation(cfg Config) *Station {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Station{
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.Dispatcher.QueueDepth),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.link = NewLink(cfg.Link, s.dispatcher)
	return s
}

// OnStateChange registers fn for link state transitions. Call it before Start.
func (s *Station) OnStateChange(fn func(from, to LinkState)) {
	s.link.OnStateChange = fn
}

// SetTestMode switches between the serial port and the simulated flight
// controller. It applies from the next Start.
func (s *Station) SetTestMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testMode = enabled
	if enabled {
		s.link.SetPortOpener(openSimulator)
	} else {
		s.link.SetPortOpener(serialOpen)
	}
}

// Start connects to port in the background. Empty port and zero baud fall
// back to the configured values.
func (s *Station) Start(ctx context.Context, port string, baud int) error {
	if port == "" {
		port = s.cfg.Link.Port
	}
	if baud == 0 {
		baud = s.cfg.Link.Baud
	}
	log.WithField("port", port).WithField("baud", baud).Info("starting link")
	return s.link.Start(ctx, port, baud)
}

// Stop disconnects the link. Subscriptions and forwarders stay registered.
func (s *Station) Stop() {
	s.link.Stop()
}

// Done is closed when the link worker exits.
func (s *Station) Done() <-chan struct{} {
	return s.link.Done()
}

// Close stops the link, stops every forwarder and closes those that are
// io.Closers.
func (s *Station) Close() error {
	s.Stop()
	s.cancel()

	s.mu.Lock()
	forwarders := s.forwarders
	s.forwarders = nil
	s.mu.Unlock()

	for _, f := range forwarders {
		s.dispatcher.Unsubscribe(f.sub)
	}
	s.wg.Wait()

	var firstErr error
	for _, f := range forwarders {
		closer, ok := f.fwd.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			log.WithField("forwarder", f.fwd.Name()).Warnf("unable to close: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Station) Subscribe(kinds ...SampleKind) *Subscription {
	return s.dispatcher.Subscribe(kinds...)
}

func (s *Station) Unsubscribe(sub *Subscription) {
	s.dispatcher.Unsubscribe(sub)
}

// AddForwarder gives fwd its own subscription and delivery goroutine.
func (s *Station) AddForwarder(fwd Forwarder) {
	sub := s.dispatcher.Subscribe(fwd.Kinds()...)
	s.mu.Lock()
	s.forwarders = append(s.forwarders, &forwarding{fwd: fwd, sub: sub})
	s.mu.Unlock()

	log.WithField("forwarder", fwd.Name()).WithField("kinds", sub.Kinds()).Info("forwarder added")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for sample := range sub.Samples(s.ctx) {
			if err := fwd.Forward(sample); err != nil {
				s.forwardErrors.Add(1)
				log.WithField("forwarder", fwd.Name()).Errorf("unable to forward %v: %v", sample.Kind(), err)
			}
		}
	}()
}

// Status is a point-in-time view of the station's health.
type Status struct {
	State         LinkState `json:"state"`
	LastError     string    `json:"last_error,omitempty"`
	TestMode      bool      `json:"test_mode"`
	Frames        uint64    `json:"frames"`
	Heartbeats    uint64    `json:"heartbeats"`
	ProtocolErrs  uint64    `json:"protocol_errors"`
	Unknown       uint64    `json:"unknown"`
	Invalid       uint64    `json:"invalid"`
	QueueDrops    uint64    `json:"queue_drops"`
	ReadTimeouts  uint64    `json:"read_timeouts"`
	Reconnects    uint64    `json:"reconnects"`
	ForwardErrors uint64    `json:"forward_errors"`
	Subscribers   int       `json:"subscribers"`
}

func (s *Station) Status() Status {
	stats := s.link.Stats()
	s.mu.Lock()
	testMode := s.testMode
	s.mu.Unlock()

	status := Status{
		State:         s.link.State(),
		TestMode:      testMode,
		Frames:        stats.Decoder.Frames,
		Heartbeats:    stats.Heartbeats,
		ProtocolErrs:  stats.Decoder.ProtocolErrors,
		Unknown:       stats.Decoder.Unknown,
		Invalid:       stats.Invalid,
		QueueDrops:    s.dispatcher.Dropped(),
		ReadTimeouts:  stats.ReadTimeouts,
		Reconnects:    stats.Reconnects,
		ForwardErrors: s.forwardErrors.Load(),
		Subscribers:   s.dispatcher.Subscribers(),
	}
	if err := s.link.Err(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

// Dropped is everything that arrived but never reached a subscriber:
// corrupt and unknown frames, invalid values and queue overflow.
func (s Status) Dropped() uint64 {
	return s.ProtocolErrs + s.Unknown + s.Invalid + s.QueueDrops
}

func (s Status) String() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "link %s", s.State)
	if s.TestMode {
		b.WriteString(" (test mode)")
	}
	fmt.Fprintf(&b, ", %s frames, %s dropped", humanize.Comma(int64(s.Frames)), humanize.Comma(int64(s.Dropped())))
	if s.Dropped() > 0 {
		fmt.Fprintf(&b, " (%d corrupt, %d unknown, %d invalid, %d overflow)",
			s.ProtocolErrs, s.Unknown, s.Invalid, s.QueueDrops)
	}
	fmt.Fprintf(&b, ", %d reconnects, %d subscribers", s.Reconnects, s.Subscribers)
	if s.LastError != "" {
		fmt.Fprintf(&b, ", last error: %s", s.LastError)
	}
	return b.String()
}
