package gcslink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(4)
	subs := []*Subscription{d.Subscribe(), d.Subscribe(), d.Subscribe()}

	sample := Position{Lat: 1, Lon: 2, AltM: 3}
	d.Publish(sample)

	for i, s := range d.subs {
		assert.Same(t, subs[i], s, "subscribers are kept in registration order")
	}
	for _, s := range subs {
		got, ok := s.TryNext()
		require.True(t, ok)
		assert.Equal(t, sample, got)
		_, ok = s.TryNext()
		assert.False(t, ok, "delivered exactly once")
	}
	assert.Zero(t, d.Dropped())
}

func TestDispatcherKindFilter(t *testing.T) {
	d := NewDispatcher(4)
	attitudeOnly := d.Subscribe(KindAttitude)
	positionAndAir := d.Subscribe(KindPosition, KindAirData)

	d.Publish(Attitude{RollDeg: 1})
	d.Publish(AirData{Climb: 2})
	d.Publish(Position{Lat: 3})

	assert.Equal(t, 1, attitudeOnly.Len())
	assert.Equal(t, 2, positionAndAir.Len())
	assert.Equal(t, KindPosition|KindAirData, positionAndAir.Kinds())
}

func TestDispatcherDropOldest(t *testing.T) {
	d := NewDispatcher(3)
	slow := d.Subscribe()
	fast := d.Subscribe()

	for i := 0; i < 5; i++ {
		d.Publish(AirData{Groundspeed: float64(i)})
		_, ok := fast.TryNext()
		require.True(t, ok)
	}

	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Zero(t, fast.Dropped())
	assert.Equal(t, uint64(2), d.Dropped())

	var speeds []float64
	for {
		s, ok := slow.TryNext()
		if !ok {
			break
		}
		speeds = append(speeds, s.(AirData).Groundspeed)
	}
	assert.Equal(t, []float64{2, 3, 4}, speeds, "oldest samples are dropped, order kept")
}

func TestDispatcherOrderPerSubscriber(t *testing.T) {
	d := NewDispatcher(100)
	sub := d.Subscribe(KindAirData)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []float64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range sub.Samples(ctx) {
			got = append(got, s.(AirData).Climb)
			if len(got) == 50 {
				return
			}
		}
	}()
	for i := 0; i < 50; i++ {
		d.Publish(AirData{Climb: float64(i)})
	}
	<-done

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, float64(i), v)
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher(2)
	sub := d.Subscribe()
	other := d.Subscribe()

	wg := sync.WaitGroup{}
	wg.Add(1)
	var err error
	go func() {
		_, err = sub.Next(context.Background())
		wg.Done()
	}()

	d.Unsubscribe(sub)
	wg.Wait()
	assert.Equal(t, ErrUnsubscribed, err)
	assert.Equal(t, 1, d.Subscribers())

	d.Publish(Attitude{})
	assert.Zero(t, sub.Len())
	assert.Equal(t, 1, other.Len())

	// second unsubscribe is a no-op
	d.Unsubscribe(sub)
	d.Unsubscribe(nil)
}

func TestDispatcherNextContext(t *testing.T) {
	d := NewDispatcher(1)
	sub := d.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sub.Next(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	d := NewDispatcher(1)
	for i := 0; i < 10; i++ {
		d.Subscribe()
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.Publish(Attitude{PitchDeg: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on unread subscribers")
	}
	assert.Equal(t, uint64(10*999), d.Dropped())
}
