package forwarder

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/brutella/can"
	"github.com/gaziuzay/gcslink"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frameGroundspeed uint32 = 0x200
	frameClimb              = 0x201
)

// CANBus is the part of *can.Bus the forwarder uses.
type CANBus interface {
	Publish(can.Frame) error
	Disconnect() error
}

var newBus = func(iface string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(iface)
}

// CANForwarder repeats air data on a SocketCAN bus for cockpit displays.
// Groundspeed is sent as unsigned cm/s and climb as signed cm/s, each as a
// little endian 16 bit value, and only when the value changed.
type CANForwarder struct {
	bus CANBus

	mu          sync.Mutex
	sent        bool
	groundspeed uint16
	climb       int16
}

func NewCANForwarder(iface string) (*CANForwarder, error) {
	bus, err := newBus(iface)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", iface)
	}
	log.WithField("interface", iface).Info("CAN bus opened")
	return &CANForwarder{bus: bus}, nil
}

func (c *CANForwarder) Name() string {
	return "can"
}

func (c *CANForwarder) Kinds() []gcslink.SampleKind {
	return []gcslink.SampleKind{gcslink.KindAirData}
}

func (c *CANForwarder) Forward(sample gcslink.DerivedSample) error {
	air, ok := sample.(gcslink.AirData)
	if !ok {
		return nil
	}
	gs := uint16(clamp(math.Round(air.Groundspeed*100), 0, math.MaxUint16))
	climb := int16(clamp(math.Round(air.Climb*100), math.MinInt16, math.MaxInt16))

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sent || gs != c.groundspeed {
		log.WithField("groundspeed", gs).Debug("sending groundspeed over canbus")
		if err := c.bus.Publish(uint16Frame(frameGroundspeed, gs)); err != nil {
			return errors.Wrap(err, "unable to send groundspeed to CAN bus")
		}
		c.groundspeed = gs
	}
	if !c.sent || climb != c.climb {
		if err := c.bus.Publish(uint16Frame(frameClimb, uint16(climb))); err != nil {
			return errors.Wrap(err, "unable to send climb to CAN bus")
		}
		c.climb = climb
	}
	c.sent = true
	return nil
}

func (c *CANForwarder) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Disconnect()
}

func uint16Frame(id uint32, v uint16) can.Frame {
	frame := can.Frame{
		ID:     id,
		Length: 2,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], v)
	return frame
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
