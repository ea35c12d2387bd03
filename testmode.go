package gcslink

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gaziuzay/gcslink/mavlink"
	log "github.com/sirupsen/logrus"
)

const (
	simHeartbeatInterval = time.Second
	simTelemetryInterval = 100 * time.Millisecond

	// a slow left-hand circle around the field
	simCenterLat   = 47.3977
	simCenterLon   = 8.5456
	simRadiusDeg   = 0.002
	simAltMM       = 488000
	simOrbitPeriod = 60 * time.Second
	simGroundspeed = 22
)

// simPort is a Port that plays a flight controller flying circles: a
// heartbeat every second and attitude, position and air data at 10 Hz.
// Writes are accepted and ignored.
type simPort struct {
	readTimeout time.Duration
	enc         *mavlink.Encoder
	frames      chan []byte
	pending     []byte

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// openSimulator satisfies PortOpener; the port name and baud are ignored.
func openSimulator(name string, baud int, readTimeout time.Duration) (Port, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &simPort{
		readTimeout: readTimeout,
		enc:         mavlink.NewEncoder(1, 1),
		frames:      make(chan []byte, 16),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	log.WithField("port", name).Info("test mode: simulating flight controller")
	go p.run(ctx)
	return p, nil
}

func (p *simPort) run(ctx context.Context) {
	defer close(p.done)
	heartbeat := time.NewTicker(simHeartbeatInterval)
	defer heartbeat.Stop()
	telemetry := time.NewTicker(simTelemetryInterval)
	defer telemetry.Stop()

	start := time.Now()
	pitch := 0.0
	down := false

	p.send(ctx, mavlink.Heartbeat{Type: 1, Autopilot: 3, MavlinkVersion: 3})
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			p.send(ctx, mavlink.Heartbeat{Type: 1, Autopilot: 3, MavlinkVersion: 3})
		case now := <-telemetry.C:
			theta := 2 * math.Pi * float64(now.Sub(start)) / float64(simOrbitPeriod)

			// nose porpoises between -0.1 and 0.1 rad
			if down {
				pitch -= 0.005
			} else {
				pitch += 0.005
			}
			if pitch >= 0.1 {
				down = true
			} else if pitch <= -0.1 {
				down = false
			}

			p.send(ctx, mavlink.Attitude{
				TimeBootMs: uint32(now.Sub(start) / time.Millisecond),
				Roll:       -0.3,
				Pitch:      float32(pitch),
				Yaw:        float32(math.Mod(theta+math.Pi/2, 2*math.Pi)),
			})
			p.send(ctx, mavlink.GpsRawInt{
				TimeUsec:          uint64(now.UnixMicro()),
				Lat:               int32((simCenterLat + simRadiusDeg*math.Cos(theta)) * 1e7),
				Lon:               int32((simCenterLon + simRadiusDeg*math.Sin(theta)) * 1e7),
				Alt:               simAltMM,
				FixType:           3,
				SatellitesVisible: 12,
			})
			p.send(ctx, mavlink.VfrHud{
				Airspeed:    simGroundspeed + 1,
				Groundspeed: simGroundspeed,
				Alt:         simAltMM / 1000,
				Climb:       float32(pitch * 10),
				Heading:     int16(math.Mod(theta*180/math.Pi+90, 360)),
				Throttle:    55,
			})
		}
	}
}

func (p *simPort) send(ctx context.Context, msg mavlink.Message) {
	frame, err := p.enc.Encode(msg)
	if err != nil {
		log.WithField("msgID", msg.MsgID()).Warnf("test mode: unable to encode: %v", err)
		return
	}
	select {
	case p.frames <- frame:
	case <-ctx.Done():
	}
}

func (p *simPort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		timer := time.NewTimer(p.readTimeout)
		defer timer.Stop()
		select {
		case frame := <-p.frames:
			p.pending = frame
		case <-timer.C:
			return 0, nil
		case <-p.done:
			return 0, io.ErrClosedPipe
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *simPort) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *simPort) Close() error {
	p.once.Do(p.cancel)
	<-p.done
	return nil
}
