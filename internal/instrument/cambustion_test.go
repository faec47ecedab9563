package instrument

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// cambustionSim answers like a Cambustion console: every reply ends with the
// "\r\n>" prompt.
func cambustionSim(banner string, answers map[string]string) func([]byte) []byte {
	return func(sent []byte) []byte {
		cmd := strings.TrimSuffix(string(sent), "\r\n")
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			return []byte(banner + "\r\n>")
		}
		if reply, ok := answers[fields[0]]; ok {
			return []byte(reply + "\r\n>")
		}
		return []byte("OK\r\n>")
	}
}

func newTestCPMA(conn *transport.MockConn) *CPMA {
	c := NewCPMA(transport.MockDialer{Conn: conn}, FlowSettings{SampleFlow: 1.5, RorQsh: 15})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	return c
}

func TestCPMAConnectChecksBanner(t *testing.T) {
	conn := &transport.MockConn{}
	conn.QueueReply([]byte("Cambustion CPMA v2.10\r\n>"))

	c := newTestCPMA(conn)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Connected, c.State())
}

func TestCPMAConnectRejectsWrongBanner(t *testing.T) {
	conn := &transport.MockConn{}
	conn.QueueReply([]byte("Cambustion AAC v1.4\r\n>"))

	c := newTestCPMA(conn)
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
	assert.True(t, conn.Closed())
}

func TestCPMAConnectTimeout(t *testing.T) {
	c := newTestCPMA(&transport.MockConn{})
	c.SetTimeout(20 * time.Millisecond)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
}

func TestCPMASetSetpointWireFormat(t *testing.T) {
	conn := &transport.MockConn{Handler: cambustionSim("Cambustion CPMA", nil)}
	c := newTestCPMA(conn)

	require.NoError(t, c.open())

	require.NoError(t, c.SetSetpoint(context.Background(), 1.234))
	require.NoError(t, c.SetSetpoint(context.Background(), 250))

	sent := conn.SentStrings()
	assert.Equal(t, "SetMass 1.2340E+00\r\n", sent[0])
	assert.Equal(t, "SetMass 2.5000E+02\r\n", sent[1])
}

func TestCPMASetSetpointRejected(t *testing.T) {
	conn := &transport.MockConn{Handler: cambustionSim("Cambustion CPMA", map[string]string{
		"SetMass": "ERROR out of range",
	})}
	c := newTestCPMA(conn)

	require.NoError(t, c.open())

	err := c.SetSetpoint(context.Background(), 1e6)
	assert.ErrorIs(t, err, ErrSetpointRejected)
}

func TestCPMAPrepareAppliesFlowThenStarts(t *testing.T) {
	conn := &transport.MockConn{Handler: cambustionSim("Cambustion CPMA", nil)}
	c := newTestCPMA(conn)

	require.NoError(t, c.open())

	require.NoError(t, c.Prepare(context.Background()))

	sent := conn.SentStrings()
	require.Len(t, sent, 3)
	assert.Equal(t, "SetSampleFlow 1.5000E+00\r\n", sent[0])
	assert.Equal(t, "SetRm 1.5000E+01\r\n", sent[1])
	assert.Equal(t, "start\r\n", sent[2])
}

func TestCPMAReady(t *testing.T) {
	conn := &transport.MockConn{Handler: cambustionSim("Cambustion CPMA", map[string]string{
		"Status": "Running",
	})}
	c := newTestCPMA(conn)
	require.NoError(t, c.open())

	ready, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)

	conn.Handler = cambustionSim("Cambustion CPMA", map[string]string{
		"Status": "Stabilising",
	})
	ready, err = c.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestAACWireFormat(t *testing.T) {
	conn := &transport.MockConn{Handler: cambustionSim("Cambustion AAC", nil)}
	c := NewAAC(transport.MockDialer{Conn: conn}, FlowSettings{SampleFlow: 1.5, RorQsh: 10})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	require.NoError(t, c.open())

	require.NoError(t, c.Prepare(context.Background()))
	require.NoError(t, c.SetSetpoint(context.Background(), 200))

	sent := conn.SentStrings()
	assert.Equal(t, "SetSampleFlow 1.5000E+00\r\n", sent[0])
	assert.Equal(t, "SetSheath 1.0000E+01\r\n", sent[1])
	assert.Equal(t, "start\r\n", sent[2])
	assert.Equal(t, "SetSize 2.0000E+02\r\n", sent[3])
}

func TestCambustionCPCReadAveraged(t *testing.T) {
	readings := []string{"100.0", "200.0", "300.0"}
	i := 0
	conn := &transport.MockConn{Handler: func(sent []byte) []byte {
		if strings.HasPrefix(string(sent), "GCS") {
			r := readings[i%len(readings)]
			i++
			return []byte(r + "\r\n>")
		}
		return []byte("Cambustion CPC\r\n>")
	}}

	c := NewCambustionCPC(transport.MockDialer{Conn: conn})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	c.SetPollInterval(time.Millisecond)
	require.NoError(t, c.open())

	avg, err := c.ReadAveraged(context.Background(), 3*time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, avg, 1e-9)
	assert.Equal(t, 3, i)
}

func TestCambustionCPCMalformedReading(t *testing.T) {
	conn := &transport.MockConn{Handler: func([]byte) []byte {
		return []byte("bogus\r\n>")
	}}

	c := NewCambustionCPC(transport.MockDialer{Conn: conn})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	require.NoError(t, c.open())

	_, err := c.ReadAveraged(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrComms)
}

func TestCleanPrompt(t *testing.T) {
	assert.Equal(t, "OK", cleanPrompt("OK>"))
	assert.Equal(t, "Cambustion CPMA", cleanPrompt("  Cambustion CPMA\r\n"))
}
