package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsNormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
}

func TestPortOptionsNormalizeParity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "N", false},
		{"none", "N", false},
		{"E", "E", false},
		{"even", "E", false},
		{"odd", "O", false},
		{"mark", "", true},
	}

	for _, tt := range tests {
		opts, err := PortOptions{Parity: tt.in}.Normalize()
		if tt.wantErr {
			assert.Error(t, err, "parity %q", tt.in)
			continue
		}
		require.NoError(t, err, "parity %q", tt.in)
		assert.Equal(t, tt.want, opts.Parity)
	}
}

func TestPortOptionsNormalizeRejectsBadFraming(t *testing.T) {
	_, err := PortOptions{DataBits: 4}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
}

func TestPortOptionsMerge(t *testing.T) {
	defaults := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 1, Parity: "E"}

	merged := PortOptions{BaudRate: 19200}.Merge(defaults)
	assert.Equal(t, 19200, merged.BaudRate)
	assert.Equal(t, 7, merged.DataBits)
	assert.Equal(t, "E", merged.Parity)
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 1, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.StopBits(1), mode.StopBits)
}

func TestEndpointStrings(t *testing.T) {
	serialEp := SerialEndpoint{Path: "/dev/ttyUSB0", Options: PortOptions{BaudRate: 19200}}
	assert.Equal(t, "/dev/ttyUSB0@19200N1", serialEp.String())

	tcpEp := TCPEndpoint{Host: "192.168.1.2", Port: 23}
	assert.Equal(t, "192.168.1.2:23", tcpEp.String())
}
