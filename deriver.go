package gcslink

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/gaziuzay/gcslink/mavlink"
	log "github.com/sirupsen/logrus"
)

const (
	// AttitudeScale converts ATTITUDE radians into the degrees the
	// instrument artwork was tuned against. It is not 180/π.
	AttitudeScale = 60

	// GPS_RAW_INT fixed-point scales
	degE7      = 1e7
	mmPerMeter = 1000.0

	minLat  = -90.0
	maxLat  = 90.0
	minLon  = -180.0
	maxLon  = 180.0
	minAltM = -500.0
)

// Deriver maps raw messages to validated samples. It is used from the link
// worker only; Invalid may be read from anywhere.
type Deriver struct {
	now     func() time.Time
	invalid atomic.Uint64
}

func NewDeriver() *Deriver {
	return &Deriver{now: time.Now}
}

// Invalid returns how many messages were dropped by validation.
func (d *Deriver) Invalid() uint64 {
	return d.invalid.Load()
}

// Derive returns the sample for msg. Messages that carry no sample
// (heartbeats, unknown ids) return nil, nil. Out-of-range data returns a
// *ValidationError and is counted.
func (d *Deriver) Derive(msg mavlink.Message) (DerivedSample, error) {
	var (
		sample DerivedSample
		err    error
	)
	switch m := msg.(type) {
	case mavlink.GpsRawInt:
		sample, err = d.position(m)
	case mavlink.Attitude:
		sample, err = d.attitude(m)
	case mavlink.VfrHud:
		sample, err = d.airData(m)
	default:
		return nil, nil
	}
	if err != nil {
		d.invalid.Add(1)
		log.WithField("msgID", msg.MsgID()).Debugf("dropping sample: %v", err)
		return nil, err
	}
	return sample, nil
}

func (d *Deriver) position(m mavlink.GpsRawInt) (DerivedSample, error) {
	p := Position{
		Lat:  float64(m.Lat) / degE7,
		Lon:  float64(m.Lon) / degE7,
		AltM: float64(m.Alt) / mmPerMeter,
		T:    d.now(),
	}
	if err := validatePosition(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validatePosition(p Position) error {
	if p.Lat < minLat || p.Lat > maxLat {
		return &ValidationError{Field: "latitude", Value: p.Lat, Reason: "outside [-90, 90]"}
	}
	if p.Lon < minLon || p.Lon > maxLon {
		return &ValidationError{Field: "longitude", Value: p.Lon, Reason: "outside [-180, 180]"}
	}
	if p.AltM < minAltM {
		return &ValidationError{Field: "altitude", Value: p.AltM, Reason: "below -500 m"}
	}
	return nil
}

func (d *Deriver) attitude(m mavlink.Attitude) (DerivedSample, error) {
	if err := finite("pitch", m.Pitch); err != nil {
		return nil, err
	}
	if err := finite("roll", m.Roll); err != nil {
		return nil, err
	}
	return Attitude{
		PitchDeg: float64(m.Pitch) * AttitudeScale,
		RollDeg:  float64(m.Roll) * AttitudeScale,
		T:        d.now(),
	}, nil
}

func (d *Deriver) airData(m mavlink.VfrHud) (DerivedSample, error) {
	if err := finite("groundspeed", m.Groundspeed); err != nil {
		return nil, err
	}
	if err := finite("climb", m.Climb); err != nil {
		return nil, err
	}
	return AirData{
		Groundspeed: float64(m.Groundspeed),
		Climb:       float64(m.Climb),
		T:           d.now(),
	}, nil
}

func finite(field string, v float32) error {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &ValidationError{Field: field, Value: f, Reason: "not a finite number"}
	}
	return nil
}
