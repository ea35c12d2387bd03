// Package instrument turns derived samples into the values the instrument
// faces are drawn with. The constants are calibrated against the artwork
// and are defined only here.
package instrument

import (
	"github.com/gaziuzay/gcslink"
)

const (
	// artificial horizon: pixels of pan per degree of pitch
	HorizonPitchScale = 12.8

	// turn coordinator
	TurnRollDivisor = 1.587
	BallCenterX     = 99.0
	BallBaseY       = 159.0
	BallRollGain    = -1.84
	BallCurvature   = -0.00198

	// needle angles in degrees
	AirspeedZeroDeg         = 180.0
	AirspeedDegPerUnit      = 7.2
	VerticalSpeedZeroDeg    = 270.0
	VerticalSpeedDegPerUnit = 25.0
)

type HorizonOutput struct {
	Rotation float64 `json:"rotation"`
	Offset   float64 `json:"offset"`
}

// Horizon rotates the horizon against the roll and pans it with the pitch,
// about the fixed center crosshair.
func Horizon(a gcslink.Attitude) HorizonOutput {
	return HorizonOutput{
		Rotation: -a.RollDeg,
		Offset:   a.PitchDeg * HorizonPitchScale,
	}
}

type TurnOutput struct {
	AircraftRotation float64 `json:"aircraft_rotation"`
	BallX            float64 `json:"ball_x"`
	BallY            float64 `json:"ball_y"`
}

// TurnCoordinator banks the aircraft symbol and slides the ball along the
// curved inclinometer tube.
func TurnCoordinator(a gcslink.Attitude) TurnOutput {
	ballX := BallCenterX + BallRollGain*a.RollDeg
	dx := ballX - BallCenterX
	return TurnOutput{
		AircraftRotation: a.RollDeg / TurnRollDivisor,
		BallX:            ballX,
		BallY:            BallBaseY + BallCurvature*dx*dx,
	}
}

// Airspeed returns the needle rotation for the groundspeed.
func Airspeed(d gcslink.AirData) float64 {
	return AirspeedZeroDeg + d.Groundspeed*AirspeedDegPerUnit
}

// VerticalSpeed returns the needle rotation for the climb rate.
func VerticalSpeed(d gcslink.AirData) float64 {
	return VerticalSpeedZeroDeg + d.Climb*VerticalSpeedDegPerUnit
}
