package gcslink

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gaziuzay/gcslink/mavlink"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const readBufferSize = 512

// Link owns the connection to the flight controller. A single worker
// goroutine reads the port, decodes and derives samples and publishes them;
// it is also the only writer of the link state.
type Link struct {
	cfg     LinkConfig
	pub     Publisher
	deriver *Deriver
	decoder *mavlink.Decoder
	encoder *mavlink.Encoder
	now     func() time.Time

	// OnStateChange, when set before Start, is called from the worker on
	// every transition.
	OnStateChange func(from, to LinkState)

	state        atomic.Int32
	readTimeouts atomic.Uint64
	reconnects   atomic.Uint64
	heartbeats   atomic.Uint64

	mu      sync.Mutex
	opener  PortOpener
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	// owned by the worker
	open          PortOpener
	portName      string
	baud          int
	port          Port
	buf           []byte
	connectedOnce bool
	lastHeartbeat time.Time
	target        mavlink.Header
}

func NewLink(cfg LinkConfig, pub Publisher) *Link {
	cfg.applyDefaults()
	return &Link{
		cfg:     cfg,
		pub:     pub,
		deriver: NewDeriver(),
		decoder: mavlink.NewDecoder(),
		encoder: mavlink.NewEncoder(cfg.SystemID, cfg.ComponentID),
		opener:  serialOpen,
		now:     time.Now,
		buf:     make([]byte, readBufferSize),
	}
}

// SetPortOpener replaces the serial port, e.g. with a simulator. It takes
// effect on the next Start.
func (l *Link) SetPortOpener(open PortOpener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opener = open
}

func (l *Link) State() LinkState {
	return LinkState(l.state.Load())
}

// Err returns the most recent link error, if any.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Start begins connecting to port in the background. It returns
// ErrAlreadyStarted if the worker is still running.
func (l *Link) Start(ctx context.Context, port string, baud int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		select {
		case <-l.done:
		default:
			return ErrAlreadyStarted
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.lastErr = nil
	l.open = l.opener
	l.portName = port
	l.baud = baud
	l.connectedOnce = false
	go l.run(runCtx, cancel, l.done)
	return nil
}

// Stop cancels the worker and waits until it has closed the port and exited.
func (l *Link) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the worker exits, either after Stop or because the
// port could not be opened.
func (l *Link) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

type LinkStats struct {
	Decoder      mavlink.Stats
	Invalid      uint64
	ReadTimeouts uint64
	Reconnects   uint64
	Heartbeats   uint64
}

func (l *Link) Stats() LinkStats {
	return LinkStats{
		Decoder:      l.decoder.Stats(),
		Invalid:      l.deriver.Invalid(),
		ReadTimeouts: l.readTimeouts.Load(),
		Reconnects:   l.reconnects.Load(),
		Heartbeats:   l.heartbeats.Load(),
	}
}

func (l *Link) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()
	l.setState(Connecting)

	err := retry(ctx, session{l}, newBackoff(l.cfg.BackoffInitial, l.cfg.BackoffMax))
	if err != nil && !errors.Is(err, context.Canceled) {
		l.setErr(err)
		log.WithField("port", l.portName).Errorf("link stopped: %v", err)
	}
	l.setState(Disconnected)
}

func (l *Link) setState(to LinkState) {
	from := LinkState(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	log.WithField("from", from).WithField("to", to).Info("link state changed")
	if l.OnStateChange != nil {
		l.OnStateChange(from, to)
	}
}

func (l *Link) setErr(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// read performs one bounded read into the decoder. timedOut is true when the
// port returned without data.
func (l *Link) read() (timedOut bool, err error) {
	n, err := l.port.Read(l.buf)
	if n > 0 {
		_, _ = l.decoder.Write(l.buf[:n])
		if err != nil && !isTimeout(err) {
			return false, err
		}
		return false, nil
	}
	if err == nil || isTimeout(err) {
		l.readTimeouts.Add(1)
		return true, nil
	}
	return false, err
}

func isTimeout(err error) bool {
	if err == io.EOF {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func (l *Link) awaitHeartbeat(ctx context.Context) error {
	deadline := l.now().Add(l.cfg.HeartbeatTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.now().After(deadline) {
			return errors.Wrapf(ErrHeartbeatTimeout, "%s: waited %v", l.portName, l.cfg.HeartbeatTimeout)
		}
		if _, err := l.read(); err != nil {
			return errors.Wrap(err, "read")
		}
		for msg := range l.decoder.All() {
			if _, ok := msg.(mavlink.Heartbeat); ok {
				l.onHeartbeat()
				return nil
			}
		}
	}
}

func (l *Link) onHeartbeat() {
	l.heartbeats.Add(1)
	l.lastHeartbeat = l.now()
	l.target = l.decoder.LastHeader()
}

// pump decodes everything buffered and publishes the derived samples.
func (l *Link) pump() {
	for msg := range l.decoder.All() {
		if _, ok := msg.(mavlink.Heartbeat); ok {
			l.onHeartbeat()
			continue
		}
		sample, err := l.deriver.Derive(msg)
		if err != nil || sample == nil {
			continue
		}
		l.pub.Publish(sample)
	}
}

// negotiate asks the autopilot for higher telemetry rates. Failures are
// logged only.
func (l *Link) negotiate() {
	var msgs []mavlink.Message
	if l.cfg.StreamRateHz > 0 {
		msgs = append(msgs, mavlink.RequestDataStream{
			ReqMessageRate:  uint16(l.cfg.StreamRateHz),
			TargetSystem:    l.target.SystemID,
			TargetComponent: l.target.ComponentID,
			ReqStreamID:     mavlink.DataStreamAll,
			StartStop:       1,
		})
	}
	if l.cfg.AttitudeRateHz > 0 {
		msgs = append(msgs, mavlink.ParamSet{
			ParamValue:      float32(l.cfg.AttitudeRateHz),
			TargetSystem:    l.target.SystemID,
			TargetComponent: l.target.ComponentID,
			ParamID:         "ATTITUDE_RATE",
			ParamType:       mavlink.ParamTypeReal32,
		})
	}
	for _, msg := range msgs {
		frame, err := l.encoder.Encode(msg)
		if err == nil {
			_, err = l.port.Write(frame)
		}
		if err != nil {
			log.WithField("msgID", msg.MsgID()).Warnf("rate negotiation failed: %v", err)
		}
	}
}

// session adapts the link to the retry loop: Open connects and performs the
// heartbeat handshake, Start streams until the link degrades, Close releases
// the port.
type session struct {
	l *Link
}

func (s session) Name() string {
	return "link " + s.l.portName
}

func (s session) Open(ctx context.Context) error {
	l := s.l
	if l.connectedOnce {
		l.setState(Reconnecting)
	} else {
		l.setState(Connecting)
	}

	port, err := l.open(l.portName, l.baud, l.cfg.ReadTimeout)
	if err != nil {
		err = errors.Wrapf(ErrPortUnavailable, "%s: %v", l.portName, err)
		l.setErr(err)
		if !l.connectedOnce {
			return permanent(err)
		}
		return err
	}
	l.port = port
	l.decoder.Reset()

	if err := l.awaitHeartbeat(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.setErr(err)
		if !l.connectedOnce {
			l.setState(Disconnected)
		}
		return err
	}

	if l.connectedOnce {
		l.reconnects.Add(1)
	}
	l.connectedOnce = true
	l.setState(Connected)
	l.negotiate()
	return nil
}

func (s session) Start(ctx context.Context) error {
	l := s.l
	timeouts := 0
	// anything buffered behind the handshake heartbeat
	l.pump()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		timedOut, err := l.read()
		if err != nil {
			l.setState(Degraded)
			return errors.Wrap(err, "read")
		}
		if timedOut {
			timeouts++
		} else {
			timeouts = 0
		}
		l.pump()

		if timeouts >= l.cfg.MaxReadTimeouts {
			l.setState(Degraded)
			return errors.Wrapf(errDegraded, "%d consecutive read timeouts", timeouts)
		}
		if since := l.now().Sub(l.lastHeartbeat); since > l.cfg.HeartbeatTimeout {
			l.setState(Degraded)
			return errors.Wrapf(errDegraded, "no heartbeat for %v", since)
		}
	}
}

func (s session) Close() error {
	l := s.l
	if l.State() == Degraded {
		l.setState(Reconnecting)
	}
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}
