package gcslink

import (
	"time"
)

type LinkState int32

const (
	Disconnected LinkState = iota
	Connecting
	Connected
	Degraded
	Reconnecting
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SampleKind uint8

const (
	KindAttitude SampleKind = 1 << iota
	KindPosition
	KindAirData
)

// AllKinds matches every sample.
const AllKinds = KindAttitude | KindPosition | KindAirData

func (k SampleKind) String() string {
	switch k {
	case KindAttitude:
		return "attitude"
	case KindPosition:
		return "position"
	case KindAirData:
		return "airdata"
	}
	return "mixed"
}

// DerivedSample is a validated sample in display units. The concrete type is
// one of Attitude, Position or AirData.
type DerivedSample interface {
	Kind() SampleKind
	Time() time.Time
}

// Attitude angles are raw radians scaled by AttitudeScale.
type Attitude struct {
	PitchDeg float64   `json:"pitch_deg"`
	RollDeg  float64   `json:"roll_deg"`
	T        time.Time `json:"t"`
}

type Position struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	AltM float64   `json:"alt_m"`
	T    time.Time `json:"t"`
}

type AirData struct {
	Groundspeed float64   `json:"groundspeed"`
	Climb       float64   `json:"climb"`
	T           time.Time `json:"t"`
}

func (Attitude) Kind() SampleKind { return KindAttitude }
func (Position) Kind() SampleKind { return KindPosition }
func (AirData) Kind() SampleKind  { return KindAirData }

func (a Attitude) Time() time.Time { return a.T }
func (p Position) Time() time.Time { return p.T }
func (a AirData) Time() time.Time  { return a.T }
