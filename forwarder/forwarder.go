// Package forwarder holds the consumers that relay derived samples out of
// the station: a text position log, UDP packets, MQTT, a sqlite track store
// and a CAN bus.
package forwarder

import (
	"context"
	"io"

	"github.com/gaziuzay/gcslink"
	log "github.com/sirupsen/logrus"
)

// Runner is implemented by forwarders that need a goroutine of their own
// besides Forward.
type Runner interface {
	Start(ctx context.Context) error
}

// FromConfig builds every enabled forwarder. port names the link for the
// track store session.
func FromConfig(ctx context.Context, cfg gcslink.ForwardersConfig, port string) ([]gcslink.Forwarder, error) {
	var fwds []gcslink.Forwarder
	fail := func(err error) ([]gcslink.Forwarder, error) {
		for _, fwd := range fwds {
			if c, ok := fwd.(io.Closer); ok {
				_ = c.Close()
			}
		}
		return nil, err
	}

	if cfg.PositionLog.Enable {
		plog, err := NewPositionLog(cfg.PositionLog.Path)
		if err != nil {
			return fail(err)
		}
		fwds = append(fwds, plog)
	}
	if cfg.UDP.Enable {
		var udp *UDPForwarder
		var err error
		if cfg.UDP.ConfigFile != "" {
			udp, err = NewUDPForwarder(cfg.UDP.ConfigFile)
		} else {
			udp, err = NewUDPForwarderFromConfig(cfg.UDP)
		}
		if err != nil {
			return fail(err)
		}
		fwds = append(fwds, udp)
	}
	if cfg.MQTT.Enable {
		m, err := NewMQTTForwarder(cfg.MQTT)
		if err != nil {
			return fail(err)
		}
		fwds = append(fwds, m)
	}
	if cfg.SQLite.Enable {
		store, err := NewTrackStore(ctx, cfg.SQLite.Path, port)
		if err != nil {
			return fail(err)
		}
		fwds = append(fwds, store)
	}
	if cfg.CAN.Enable {
		c, err := NewCANForwarder(cfg.CAN.Interface)
		if err != nil {
			return fail(err)
		}
		fwds = append(fwds, c)
	}

	for _, fwd := range fwds {
		log.WithField("forwarder", fwd.Name()).Info("forwarder enabled")
	}
	return fwds, nil
}
