package mavlink

import (
	"bytes"

	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/minimal"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	MsgIDHeartbeat         uint32 = 0
	MsgIDParamSet          uint32 = 23
	MsgIDGpsRawInt         uint32 = 24
	MsgIDAttitude          uint32 = 30
	MsgIDRequestDataStream uint32 = 66
	MsgIDVfrHud            uint32 = 74
)

// MAV_PARAM_TYPE_REAL32
const ParamTypeReal32 uint8 = 9

// MAV_DATA_STREAM_ALL
const DataStreamAll uint8 = 0

// gcsDialect holds the only messages the ground station decodes and sends.
// CRC_EXTRA and the wire layout are derived from the message definitions.
var gcsDialect = &dialect.Dialect{
	Version: 3,
	Messages: []message.Message{
		&minimal.MessageHeartbeat{},
		&common.MessageParamSet{},
		&common.MessageGpsRawInt{},
		&common.MessageAttitude{},
		&common.MessageRequestDataStream{},
		&common.MessageVfrHud{},
	},
}

var dialectRW = mustReadWriter(gcsDialect)

func mustReadWriter(d *dialect.Dialect) *dialect.ReadWriter {
	rw := &dialect.ReadWriter{Dialect: d}
	if err := rw.Initialize(); err != nil {
		panic(err)
	}
	return rw
}

// Message is one decoded MAVLink message. The concrete type identifies the
// variant: Heartbeat, Attitude, GpsRawInt, VfrHud, ParamSet,
// RequestDataStream or Unknown.
type Message interface {
	MsgID() uint32
}

// Header carries the addressing fields of the frame a message arrived in.
type Header struct {
	Version     int
	Sequence    uint8
	SystemID    uint8
	ComponentID uint8
}

type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

// Attitude angles are in radians.
type Attitude struct {
	TimeBootMs uint32
	Roll       float32
	Pitch      float32
	Yaw        float32
	RollSpeed  float32
	PitchSpeed float32
	YawSpeed   float32
}

// GpsRawInt positions are degrees scaled by 1e7, altitude is millimeters MSL.
type GpsRawInt struct {
	TimeUsec          uint64
	Lat               int32
	Lon               int32
	Alt               int32
	Eph               uint16
	Epv               uint16
	Vel               uint16
	Cog               uint16
	FixType           uint8
	SatellitesVisible uint8
}

// VfrHud speeds are m/s.
type VfrHud struct {
	Airspeed    float32
	Groundspeed float32
	Alt         float32
	Climb       float32
	Heading     int16
	Throttle    uint16
}

type ParamSet struct {
	ParamValue      float32
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         string
	ParamType       uint8
}

type RequestDataStream struct {
	ReqMessageRate  uint16
	TargetSystem    uint8
	TargetComponent uint8
	ReqStreamID     uint8
	StartStop       uint8
}

// Unknown is a well-framed message whose id this package does not decode.
type Unknown struct {
	ID      uint32
	Payload []byte
}

func (Heartbeat) MsgID() uint32         { return MsgIDHeartbeat }
func (Attitude) MsgID() uint32          { return MsgIDAttitude }
func (GpsRawInt) MsgID() uint32         { return MsgIDGpsRawInt }
func (VfrHud) MsgID() uint32            { return MsgIDVfrHud }
func (ParamSet) MsgID() uint32          { return MsgIDParamSet }
func (RequestDataStream) MsgID() uint32 { return MsgIDRequestDataStream }
func (u Unknown) MsgID() uint32         { return u.ID }

// fromWire converts a message read by the frame reader.
func fromWire(m message.Message) Message {
	switch w := m.(type) {
	case *minimal.MessageHeartbeat:
		return Heartbeat{
			CustomMode:     w.CustomMode,
			Type:           uint8(w.Type),
			Autopilot:      uint8(w.Autopilot),
			BaseMode:       uint8(w.BaseMode),
			SystemStatus:   uint8(w.SystemStatus),
			MavlinkVersion: w.MavlinkVersion,
		}
	case *common.MessageAttitude:
		return Attitude{
			TimeBootMs: w.TimeBootMs,
			Roll:       w.Roll,
			Pitch:      w.Pitch,
			Yaw:        w.Yaw,
			RollSpeed:  w.Rollspeed,
			PitchSpeed: w.Pitchspeed,
			YawSpeed:   w.Yawspeed,
		}
	case *common.MessageGpsRawInt:
		return GpsRawInt{
			TimeUsec:          w.TimeUsec,
			Lat:               w.Lat,
			Lon:               w.Lon,
			Alt:               w.Alt,
			Eph:               w.Eph,
			Epv:               w.Epv,
			Vel:               w.Vel,
			Cog:               w.Cog,
			FixType:           uint8(w.FixType),
			SatellitesVisible: w.SatellitesVisible,
		}
	case *common.MessageVfrHud:
		return VfrHud{
			Airspeed:    w.Airspeed,
			Groundspeed: w.Groundspeed,
			Alt:         w.Alt,
			Climb:       w.Climb,
			Heading:     w.Heading,
			Throttle:    w.Throttle,
		}
	case *common.MessageParamSet:
		return ParamSet{
			ParamValue:      w.ParamValue,
			TargetSystem:    w.TargetSystem,
			TargetComponent: w.TargetComponent,
			ParamID:         w.ParamId,
			ParamType:       uint8(w.ParamType),
		}
	case *common.MessageRequestDataStream:
		return RequestDataStream{
			ReqMessageRate:  w.ReqMessageRate,
			TargetSystem:    w.TargetSystem,
			TargetComponent: w.TargetComponent,
			ReqStreamID:     w.ReqStreamId,
			StartStop:       w.StartStop,
		}
	case *message.MessageRaw:
		return Unknown{ID: w.ID, Payload: bytes.Clone(w.Payload)}
	}
	return Unknown{ID: m.GetID()}
}

// toWire returns the frame writer's form of the messages this package can
// send, or false for anything else.
func toWire(msg Message) (message.Message, bool) {
	switch m := msg.(type) {
	case Heartbeat:
		return &minimal.MessageHeartbeat{
			Type:           minimal.MAV_TYPE(m.Type),
			Autopilot:      minimal.MAV_AUTOPILOT(m.Autopilot),
			BaseMode:       minimal.MAV_MODE_FLAG(m.BaseMode),
			CustomMode:     m.CustomMode,
			SystemStatus:   minimal.MAV_STATE(m.SystemStatus),
			MavlinkVersion: m.MavlinkVersion,
		}, true
	case Attitude:
		return &common.MessageAttitude{
			TimeBootMs: m.TimeBootMs,
			Roll:       m.Roll,
			Pitch:      m.Pitch,
			Yaw:        m.Yaw,
			Rollspeed:  m.RollSpeed,
			Pitchspeed: m.PitchSpeed,
			Yawspeed:   m.YawSpeed,
		}, true
	case GpsRawInt:
		return &common.MessageGpsRawInt{
			TimeUsec:          m.TimeUsec,
			FixType:           common.GPS_FIX_TYPE(m.FixType),
			Lat:               m.Lat,
			Lon:               m.Lon,
			Alt:               m.Alt,
			Eph:               m.Eph,
			Epv:               m.Epv,
			Vel:               m.Vel,
			Cog:               m.Cog,
			SatellitesVisible: m.SatellitesVisible,
		}, true
	case VfrHud:
		return &common.MessageVfrHud{
			Airspeed:    m.Airspeed,
			Groundspeed: m.Groundspeed,
			Heading:     m.Heading,
			Throttle:    m.Throttle,
			Alt:         m.Alt,
			Climb:       m.Climb,
		}, true
	case ParamSet:
		return &common.MessageParamSet{
			TargetSystem:    m.TargetSystem,
			TargetComponent: m.TargetComponent,
			ParamId:         m.ParamID,
			ParamValue:      m.ParamValue,
			ParamType:       common.MAV_PARAM_TYPE(m.ParamType),
		}, true
	case RequestDataStream:
		return &common.MessageRequestDataStream{
			TargetSystem:    m.TargetSystem,
			TargetComponent: m.TargetComponent,
			ReqStreamId:     m.ReqStreamID,
			ReqMessageRate:  m.ReqMessageRate,
			StartStop:       m.StartStop,
		}, true
	}
	return nil, false
}
