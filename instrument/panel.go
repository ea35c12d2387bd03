package instrument

import (
	"time"

	"github.com/gaziuzay/gcslink"
)

// Panel holds the latest output of every instrument. It is not safe for
// concurrent use; the consumer applying samples owns it and hands copies to
// readers.
type Panel struct {
	Horizon       HorizonOutput `json:"horizon"`
	Turn          TurnOutput    `json:"turn"`
	Airspeed      float64       `json:"airspeed"`
	VerticalSpeed float64       `json:"vertical_speed"`
	Track         TrackOutput   `json:"track"`
	Updated       time.Time     `json:"updated"`

	track *Track
}

// NewPanel returns a panel with needles at rest that appends positions to
// track.
func NewPanel(track *Track) *Panel {
	p := &Panel{track: track}
	p.Turn = TurnCoordinator(gcslink.Attitude{})
	p.Airspeed = Airspeed(gcslink.AirData{})
	p.VerticalSpeed = VerticalSpeed(gcslink.AirData{})
	return p
}

// Apply routes sample to the instruments that read it and reports which
// kind changed.
func (p *Panel) Apply(sample gcslink.DerivedSample) gcslink.SampleKind {
	switch s := sample.(type) {
	case gcslink.Attitude:
		p.Horizon = Horizon(s)
		p.Turn = TurnCoordinator(s)
	case gcslink.Position:
		p.Track = p.track.Update(s)
	case gcslink.AirData:
		p.Airspeed = Airspeed(s)
		p.VerticalSpeed = VerticalSpeed(s)
	default:
		return 0
	}
	p.Updated = sample.Time()
	return sample.Kind()
}

// Copy returns the panel values without the track history.
func (p *Panel) Copy() Panel {
	c := *p
	c.track = nil
	return c
}
