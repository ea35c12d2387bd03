package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gaziuzay/gcslink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPForwarder(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	udpAddr := pc.LocalAddr().(*net.UDPAddr)
	config := fmt.Sprintf(`
Server = "127.0.0.1"
Port = %d
`, udpAddr.Port)

	type datagram struct {
		data []byte
		len  int
	}
	dataChan := make(chan datagram, 4)
	go func() {
		assert.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second*3)))
		for i := 0; i < 2; i++ {
			buffer := make([]byte, 1024)
			n, _, err := pc.ReadFrom(buffer)
			if err != nil {
				return
			}
			dataChan <- datagram{data: buffer, len: n}
		}
	}()

	udp, err := NewUDPForwarderFromReader(bytes.NewBufferString(config))
	require.NoError(t, err)
	defer udp.Close()
	assert.Equal(t, 100*time.Millisecond, udp.Config.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.UnixMilli(1700000000123)
	// the second position replaces the first before it is sent
	assert.NoError(t, udp.Forward(gcslink.Position{Lat: 1, Lon: 2, AltM: 3, T: now}))
	assert.NoError(t, udp.Forward(gcslink.Position{Lat: 10, Lon: 11, AltM: 12, T: now}))
	assert.NoError(t, udp.Forward(gcslink.Attitude{PitchDeg: 6, RollDeg: -12, T: now}))

	go func() {
		_ = udp.Start(ctx)
	}()

	var got []datagram
	for len(got) < 2 {
		select {
		case d := <-dataChan:
			got = append(got, d)
		case <-time.After(3 * time.Second):
			t.Fatal("no datagram received")
		}
	}

	// pending samples go out in kind order
	assert.Equal(t, 17, got[0].len)
	rdr := bytes.NewReader(got[0].data)
	hdr := Header{}
	att := AttitudePacket{}
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &hdr))
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &att))
	assert.Equal(t, Header{Type: TypeAttitude}, hdr)
	assert.Equal(t, AttitudePacket{Millis: 1700000000123, PitchDeg: 6, RollDeg: -12}, att)

	assert.Equal(t, maxPacketSize, got[1].len)
	rdr = bytes.NewReader(got[1].data)
	pos := PositionPacket{}
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &hdr))
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &pos))
	assert.Equal(t, Header{Type: TypePosition}, hdr)
	assert.Equal(t, PositionPacket{Millis: 1700000000123, Lat: 10, Lon: 11, AltM: 12}, pos)
}

func TestEncodePacketSizes(t *testing.T) {
	p, err := encodePacket(gcslink.AirData{Groundspeed: 1, Climb: 2})
	require.NoError(t, err)
	assert.Len(t, p, 17)
	assert.Equal(t, uint8(TypeAirData), p[0])
}
