package forwarder

import (
	"encoding/binary"
	"testing"

	"github.com/brutella/can"
	"github.com/gaziuzay/gcslink"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busStub struct {
	disconnected bool
	publishChan  chan *can.Frame
}

func (bus *busStub) Disconnect() error {
	bus.disconnected = true
	return nil
}

func (bus *busStub) Publish(f can.Frame) error {
	bus.publishChan <- &f
	return nil
}

func withBusStub(t *testing.T) *busStub {
	bus := &busStub{publishChan: make(chan *can.Frame, 16)}
	origNewBus := newBus
	newBus = func(string) (CANBus, error) {
		return bus, nil
	}
	t.Cleanup(func() {
		newBus = origNewBus
	})
	return bus
}

func frameValue(f *can.Frame) uint16 {
	return binary.LittleEndian.Uint16(f.Data[0:2])
}

func TestCANForwarder(t *testing.T) {
	bus := withBusStub(t)
	fwd, err := NewCANForwarder("can0")
	require.NoError(t, err)

	require.NoError(t, fwd.Forward(gcslink.AirData{Groundspeed: 12.34, Climb: -1.5}))
	require.Len(t, bus.publishChan, 2)
	f := <-bus.publishChan
	assert.Equal(t, frameGroundspeed, f.ID)
	assert.Equal(t, uint8(2), f.Length)
	assert.Equal(t, uint16(1234), frameValue(f))
	f = <-bus.publishChan
	assert.Equal(t, uint32(frameClimb), f.ID)
	assert.Equal(t, int16(-150), int16(frameValue(f)))

	// unchanged values are not repeated
	require.NoError(t, fwd.Forward(gcslink.AirData{Groundspeed: 12.3449, Climb: -1.5}))
	assert.Len(t, bus.publishChan, 0)

	require.NoError(t, fwd.Forward(gcslink.AirData{Groundspeed: 12.34, Climb: 2}))
	require.Len(t, bus.publishChan, 1)
	f = <-bus.publishChan
	assert.Equal(t, uint32(frameClimb), f.ID)
	assert.Equal(t, uint16(200), frameValue(f))

	// other samples are ignored
	require.NoError(t, fwd.Forward(gcslink.Position{Lat: 1}))
	assert.Len(t, bus.publishChan, 0)

	assert.NoError(t, fwd.Close())
	assert.True(t, bus.disconnected)
}

func TestCANForwarderClamps(t *testing.T) {
	bus := withBusStub(t)
	fwd, err := NewCANForwarder("can0")
	require.NoError(t, err)

	require.NoError(t, fwd.Forward(gcslink.AirData{Groundspeed: 1000, Climb: -500}))
	assert.Equal(t, uint16(65535), frameValue(<-bus.publishChan))
	assert.Equal(t, int16(-32768), int16(frameValue(<-bus.publishChan)))
}

func TestCANForwarderOpenFails(t *testing.T) {
	origNewBus := newBus
	newBus = func(string) (CANBus, error) {
		return nil, errors.New("no such device")
	}
	defer func() { newBus = origNewBus }()

	_, err := NewCANForwarder("can9")
	assert.EqualError(t, err, "unable to open can interface can9: no such device")
}
