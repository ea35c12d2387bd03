package forwarder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gaziuzay/gcslink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "40.0", formatFloat(40))
	assert.Equal(t, "-74.0", formatFloat(-74))
	assert.Equal(t, "0.0", formatFloat(0))
	assert.Equal(t, "40.7128", formatFloat(40.7128))
	assert.Equal(t, "-0.5", formatFloat(-0.5))
	assert.Equal(t, "1e-05", formatFloat(0.00001))
	assert.Equal(t, "123456.789", formatFloat(123456.789))
}

func TestPositionLogWriter(t *testing.T) {
	buf := bytes.Buffer{}
	plog := NewPositionLogWriter(&buf)
	assert.Equal(t, []gcslink.SampleKind{gcslink.KindPosition}, plog.Kinds())

	require.NoError(t, plog.Forward(gcslink.Position{Lat: 40, Lon: -74, AltM: 100}))
	require.NoError(t, plog.Forward(gcslink.Attitude{PitchDeg: 1}))
	require.NoError(t, plog.Forward(gcslink.Position{Lat: 40.5, Lon: -73.25, AltM: -12.5}))
	assert.Equal(t, "40.0, -74.0, 100.0\n40.5, -73.25, -12.5\n", buf.String())
	assert.NoError(t, plog.Close())
}

func TestPositionLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gps_log.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.0, 2.0, 3.0\n"), 0o644))

	plog, err := NewPositionLog(path)
	require.NoError(t, err)
	require.NoError(t, plog.Forward(gcslink.Position{Lat: 40, Lon: -74, AltM: 100}))

	// every line is on disk before Close
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0, 2.0, 3.0\n40.0, -74.0, 100.0\n", string(data))
	require.NoError(t, plog.Close())
}
