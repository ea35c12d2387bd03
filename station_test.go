package gcslink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gaziuzay/gcslink/mavlink"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type forwarderStub struct {
	kinds   []SampleKind
	err     error
	samples chan DerivedSample

	mu     sync.Mutex
	closed bool
}

func createForwarderStub(kinds ...SampleKind) *forwarderStub {
	return &forwarderStub{
		kinds:   kinds,
		samples: make(chan DerivedSample, 64),
	}
}

func (f *forwarderStub) Name() string        { return "stub" }
func (f *forwarderStub) Kinds() []SampleKind { return f.kinds }

func (f *forwarderStub) Forward(sample DerivedSample) error {
	select {
	case f.samples <- sample:
	default:
	}
	return f.err
}

func (f *forwarderStub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *forwarderStub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func nextSample(t *testing.T, ch <-chan DerivedSample) DerivedSample {
	t.Helper()
	select {
	case sample := <-ch:
		return sample
	case <-time.After(5 * time.Second):
		t.Fatal("no sample")
	}
	return nil
}

func testStationConfig() Config {
	cfg := DefaultConfig()
	cfg.Link = testLinkConfig()
	return cfg
}

func TestStationForwarders(t *testing.T) {
	st := NewStation(testStationConfig())
	port := createPortStub(10*time.Millisecond, frames(t,
		mavlink.Heartbeat{},
		mavlink.GpsRawInt{Lat: 400000000, Lon: -740000000, Alt: 100000},
		mavlink.VfrHud{Groundspeed: 12, Climb: 1.5},
	))
	port.setRepeat(frames(t, mavlink.Heartbeat{}))
	open, _ := openerStub(port)
	st.link.SetPortOpener(open)

	positions := createForwarderStub(KindPosition)
	failing := createForwarderStub()
	failing.err = errors.New("server went away")
	st.AddForwarder(positions)
	st.AddForwarder(failing)

	require.NoError(t, st.Start(context.Background(), "", 0))

	sample := nextSample(t, positions.samples)
	assert.Equal(t, Position{Lat: 40, Lon: -74, AltM: 100, T: sample.Time()}, sample)

	// the failing forwarder still sees every sample
	assert.Equal(t, KindPosition, nextSample(t, failing.samples).Kind())
	assert.Equal(t, KindAirData, nextSample(t, failing.samples).Kind())
	assert.Eventually(t, func() bool {
		return st.Status().ForwardErrors == 2
	}, time.Second, 10*time.Millisecond)

	status := st.Status()
	assert.Equal(t, Connected, status.State)
	assert.Equal(t, 2, status.Subscribers)
	assert.GreaterOrEqual(t, status.Frames, uint64(3))

	require.NoError(t, st.Close())
	assert.True(t, positions.isClosed())
	assert.True(t, failing.isClosed())
	assert.Equal(t, Disconnected, st.Status().State)
	assert.Equal(t, 0, st.Status().Subscribers)
}

func TestStationTestMode(t *testing.T) {
	cfg := testStationConfig()
	cfg.Link.ReadTimeout = 200 * time.Millisecond
	cfg.Link.HeartbeatTimeout = 3 * time.Second
	st := NewStation(cfg)
	st.SetTestMode(true)
	sub := st.Subscribe(KindPosition)

	require.NoError(t, st.Start(context.Background(), "", 0))
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sample, err := sub.Next(ctx)
	require.NoError(t, err)
	pos := sample.(Position)
	assert.InDelta(t, simCenterLat, pos.Lat, simRadiusDeg*1.01)
	assert.InDelta(t, simCenterLon, pos.Lon, simRadiusDeg*1.01)
	assert.InDelta(t, 488.0, pos.AltM, 1e-9)

	status := st.Status()
	assert.True(t, status.TestMode)
	assert.Equal(t, Connected, status.State)
}

func TestStationPortUnavailable(t *testing.T) {
	st := NewStation(testStationConfig())
	open, _ := openerStub()
	st.link.SetPortOpener(open)

	require.NoError(t, st.Start(context.Background(), "/dev/missing", 9600))
	<-st.Done()
	status := st.Status()
	assert.Equal(t, Disconnected, status.State)
	assert.Contains(t, status.LastError, "port unavailable")
	assert.Contains(t, status.String(), "last error: ")
}

func TestStatusString(t *testing.T) {
	s := Status{
		State:        Connected,
		Frames:       1234567,
		ProtocolErrs: 3,
		Unknown:      1000,
		Invalid:      2,
		QueueDrops:   5,
		Reconnects:   1,
		Subscribers:  4,
	}
	assert.Equal(t, uint64(1010), s.Dropped())
	assert.Equal(t, "link connected, 1,234,567 frames, 1,010 dropped "+
		"(3 corrupt, 1000 unknown, 2 invalid, 5 overflow), 1 reconnects, 4 subscribers", s.String())

	assert.Equal(t, "link reconnecting (test mode), 0 frames, 0 dropped, 0 reconnects, 0 subscribers",
		Status{State: Reconnecting, TestMode: true}.String())
}
