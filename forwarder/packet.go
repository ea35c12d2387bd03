package forwarder

import (
	"bytes"
	"encoding/binary"

	"github.com/gaziuzay/gcslink"
	"github.com/pkg/errors"
)

type Header struct {
	Type uint8
}

const (
	TypeAttitude = 1
	TypePosition = 2
	TypeAirData  = 3
)

// Packet payloads are fixed size, little endian. Times are unix
// milliseconds.
type AttitudePacket struct {
	Millis   int64
	PitchDeg float32
	RollDeg  float32
}

type PositionPacket struct {
	Millis int64
	Lat    float64
	Lon    float64
	AltM   float32
}

type AirDataPacket struct {
	Millis      int64
	Groundspeed float32
	Climb       float32
}

func encodePacket(sample gcslink.DerivedSample) ([]byte, error) {
	var (
		hdr     Header
		payload interface{}
	)
	millis := sample.Time().UnixMilli()
	switch s := sample.(type) {
	case gcslink.Attitude:
		hdr.Type = TypeAttitude
		payload = &AttitudePacket{Millis: millis, PitchDeg: float32(s.PitchDeg), RollDeg: float32(s.RollDeg)}
	case gcslink.Position:
		hdr.Type = TypePosition
		payload = &PositionPacket{Millis: millis, Lat: s.Lat, Lon: s.Lon, AltM: float32(s.AltM)}
	case gcslink.AirData:
		hdr.Type = TypeAirData
		payload = &AirDataPacket{Millis: millis, Groundspeed: float32(s.Groundspeed), Climb: float32(s.Climb)}
	default:
		return nil, errors.Errorf("unsupported sample %T", sample)
	}

	buf := bytes.NewBuffer([]byte{})
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, payload); err != nil {
		return nil, errors.Wrap(err, "unable to write udp packet payload")
	}
	return buf.Bytes(), nil
}
