package gcslink

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

const defaultQueueDepth = 16

// Dispatcher fans derived samples out to subscribers. Publish never blocks:
// each subscription has a bounded queue and, when it is full, the oldest
// queued sample is dropped to make room.
type Dispatcher struct {
	depth int

	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64

	dropped atomic.Uint64
}

func NewDispatcher(queueDepth int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Dispatcher{depth: queueDepth}
}

// Subscribe registers interest in the given kinds. No kinds means all.
func (d *Dispatcher) Subscribe(kinds ...SampleKind) *Subscription {
	var mask SampleKind
	for _, k := range kinds {
		mask |= k
	}
	if mask == 0 {
		mask = AllKinds
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub := &Subscription{
		id:     d.nextID,
		kinds:  mask,
		ring:   make([]DerivedSample, d.depth),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	d.subs = append(d.subs, sub)
	return sub
}

// Unsubscribe removes sub. Samples still queued are discarded and pending
// Next calls return ErrUnsubscribed. Unsubscribing twice is harmless.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	sub.close()
}

// Publish delivers sample to every interested subscriber in registration
// order.
func (d *Dispatcher) Publish(sample DerivedSample) {
	if sample == nil {
		return
	}
	kind := sample.Kind()
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		if sub.kinds&kind == 0 {
			continue
		}
		if sub.push(sample) {
			d.dropped.Add(1)
		}
	}
}

// Dropped returns the number of samples discarded by queue overflow across
// all subscriptions, including ones since removed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Subscribers returns the number of registered subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

type Subscription struct {
	id    uint64
	kinds SampleKind

	mu     sync.Mutex
	ring   []DerivedSample
	head   int
	count  int
	closed bool

	notify  chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

func (s *Subscription) ID() uint64 {
	return s.id
}

func (s *Subscription) Kinds() SampleKind {
	return s.kinds
}

// Dropped returns how many samples this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Len returns the number of queued samples.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// push enqueues sample and reports whether the oldest one was dropped.
func (s *Subscription) push(sample DerivedSample) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.count == len(s.ring) {
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		dropped = true
		s.dropped.Add(1)
	}
	s.ring[(s.head+s.count)%len(s.ring)] = sample
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// TryNext returns the oldest queued sample without waiting.
func (s *Subscription) TryNext() (DerivedSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return nil, false
	}
	sample := s.ring[s.head]
	s.ring[s.head] = nil
	s.head = (s.head + 1) % len(s.ring)
	s.count--
	return sample, true
}

// Next waits for the next sample. It returns ErrUnsubscribed once the
// subscription is removed, or the context's error.
func (s *Subscription) Next(ctx context.Context) (DerivedSample, error) {
	for {
		if sample, ok := s.TryNext(); ok {
			return sample, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			return nil, ErrUnsubscribed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Samples yields samples until ctx is done or the subscription is removed.
func (s *Subscription) Samples(ctx context.Context) iter.Seq[DerivedSample] {
	return func(yield func(DerivedSample) bool) {
		for {
			sample, err := s.Next(ctx)
			if err != nil || !yield(sample) {
				return
			}
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for i := range s.ring {
		s.ring[i] = nil
	}
	s.count = 0
	close(s.done)
}
