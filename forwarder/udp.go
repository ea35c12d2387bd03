package forwarder

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gaziuzay/gcslink"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxPacketSize = 1 + 28

// UDPForwarder sends the most recent sample of each kind to a server as a
// binary packet. Sends are rate limited; samples arriving in between
// replace the pending one of their kind.
type UDPForwarder struct {
	Config *gcslink.UDPConfig

	conn net.Conn

	mu      sync.Mutex
	pending map[gcslink.SampleKind]gcslink.DerivedSample
	notify  chan struct{}
}

// NewUDPForwarder loads a TOML config with Server and Port. A relative
// fileName is looked up next to the binary.
func NewUDPForwarder(fileName string) (*UDPForwarder, error) {
	path := fileName
	if !filepath.IsAbs(path) {
		dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to determine binary location")
		}
		path = filepath.Join(dir, fileName)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	configData, err := io.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := gcslink.UDPConfig{}
	if _, err := toml.Decode(string(configData), &config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration")
	}
	return NewUDPForwarderFromConfig(config)
}

func NewUDPForwarderFromConfig(config gcslink.UDPConfig) (*UDPForwarder, error) {
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	udp := &UDPForwarder{
		Config:  &config,
		pending: make(map[gcslink.SampleKind]gcslink.DerivedSample),
		notify:  make(chan struct{}, 1),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Name() string {
	return "udp"
}

func (udp *UDPForwarder) Kinds() []gcslink.SampleKind {
	return nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(sample gcslink.DerivedSample) error {
	udp.mu.Lock()
	udp.pending[sample.Kind()] = sample
	udp.mu.Unlock()
	select {
	case udp.notify <- struct{}{}:
	default:
	}
	return nil
}

// Start sends pending samples at most once per interval until ctx is done.
func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.NewTicker(udp.Config.Interval)
	defer limiter.Stop()
	for {
		select {
		case <-udp.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
		for _, sample := range udp.take() {
			if err := udp.forward(sample); err != nil {
				log.WithField("kind", sample.Kind()).Error("unable to forward telemetry to server ", err)
			}
		}
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) take() []gcslink.DerivedSample {
	udp.mu.Lock()
	defer udp.mu.Unlock()
	out := make([]gcslink.DerivedSample, 0, len(udp.pending))
	for _, kind := range []gcslink.SampleKind{gcslink.KindAttitude, gcslink.KindPosition, gcslink.KindAirData} {
		if s, ok := udp.pending[kind]; ok {
			out = append(out, s)
			delete(udp.pending, kind)
		}
	}
	return out
}

func (udp *UDPForwarder) forward(sample gcslink.DerivedSample) error {
	packet, err := encodePacket(sample)
	if err != nil {
		return err
	}
	_, err = udp.conn.Write(packet)
	return err
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxPacketSize * 8

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp server")
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
