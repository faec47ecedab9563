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

// tsiSim answers like a TSI console: one CR/LF-terminated line per command.
func tsiSim(answers map[string]string) func([]byte) []byte {
	return func(sent []byte) []byte {
		cmd := strings.TrimSuffix(string(sent), "\r\n")
		for prefix, reply := range answers {
			if strings.HasPrefix(cmd, prefix) {
				return []byte(reply + "\r\n")
			}
		}
		return []byte("OK\r\n")
	}
}

func newTest3080(conn *transport.MockConn) *TSI3080 {
	c := NewTSI3080(transport.MockDialer{Conn: conn}, FlowSettings{RorQsh: 3.0})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	return c
}

func TestTSI3080ConnectProbesStatus(t *testing.T) {
	conn := &transport.MockConn{Handler: tsiSim(map[string]string{"RFL": "1,1,1"})}
	c := newTest3080(conn)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, []string{"RFL\r\n"}, conn.SentStrings())
}

func TestTSI3080ConnectRejectsGarbage(t *testing.T) {
	conn := &transport.MockConn{Handler: tsiSim(map[string]string{"RFL": "banner of some other device"})}
	c := newTest3080(conn)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
	assert.True(t, conn.Closed())
}

func TestTSI3080WireFormat(t *testing.T) {
	conn := &transport.MockConn{Handler: tsiSim(nil)}
	c := newTest3080(conn)
	require.NoError(t, c.open())

	require.NoError(t, c.Prepare(context.Background()))
	require.NoError(t, c.SetSetpoint(context.Background(), 153.26))

	sent := conn.SentStrings()
	assert.Equal(t, "SQS3.0\r\n", sent[0])
	assert.Equal(t, "SPD153.3\r\n", sent[1])
}

func TestTSI3080SetpointRejected(t *testing.T) {
	conn := &transport.MockConn{Handler: tsiSim(map[string]string{"SPD": "ERROR"})}
	c := newTest3080(conn)
	require.NoError(t, c.open())

	err := c.SetSetpoint(context.Background(), 5000)
	assert.ErrorIs(t, err, ErrSetpointRejected)
}

func TestTSI3080Ready(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"1,1,1", true},
		{"1,0,1", true},
		{"0,1,1", false},
		{"1,1,0", false},
	}

	for _, tt := range tests {
		conn := &transport.MockConn{Handler: tsiSim(map[string]string{"RFL": tt.reply})}
		c := newTest3080(conn)
		require.NoError(t, c.open())

		ready, err := c.Ready(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, ready, "RFL reply %q", tt.reply)
	}
}

func newTest3082(conn *transport.MockConn) *TSI3082 {
	c := NewTSI3082(transport.MockDialer{Conn: conn}, FlowSettings{SampleFlow: 0.3, RorQsh: 3.0})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	return c
}

func TestTSI3082WireFormat(t *testing.T) {
	conn := &transport.MockConn{Handler: tsiSim(nil)}
	c := newTest3082(conn)
	require.NoError(t, c.open())

	require.NoError(t, c.Prepare(context.Background()))
	require.NoError(t, c.SetSetpoint(context.Background(), 200))

	sent := conn.SentStrings()
	assert.Equal(t, "WSHVPOL 0\r\n", sent[0])
	assert.Equal(t, "WSAEROSOLFLOW 0.3\r\n", sent[1])
	assert.Equal(t, "WSSHFLOW 3.0\r\n", sent[2])
	assert.Equal(t, "WSPARTICLEDIAM 200.0\r\n", sent[3])
}

func TestTSI3082ReadyTolerance(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]string
		want    bool
	}{
		{
			name: "settled",
			answers: map[string]string{
				"RSSHFLOW": "3.00", "RMSHFLOW": "3.02",
				"RSHV": "1000", "RMHV": "995",
			},
			want: true,
		},
		{
			name: "sheath out of tolerance",
			answers: map[string]string{
				"RSSHFLOW": "3.00", "RMSHFLOW": "2.50",
				"RSHV": "1000", "RMHV": "1000",
			},
			want: false,
		},
		{
			name: "voltage out of tolerance",
			answers: map[string]string{
				"RSSHFLOW": "3.00", "RMSHFLOW": "3.00",
				"RSHV": "1000", "RMHV": "900",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &transport.MockConn{Handler: tsiSim(tt.answers)}
			c := newTest3082(conn)
			require.NoError(t, c.open())

			ready, err := c.Ready(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ready)
		})
	}
}

func TestTSICPCReadAveraged(t *testing.T) {
	readings := []string{"1000", "3000"}
	i := 0
	conn := &transport.MockConn{Handler: func(sent []byte) []byte {
		if strings.HasPrefix(string(sent), "RD") {
			r := readings[i%len(readings)]
			i++
			return []byte(r + "\r\n")
		}
		return nil
	}}

	c := NewTSI377x(transport.MockDialer{Conn: conn})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	c.SetPollInterval(time.Millisecond)
	require.NoError(t, c.open())

	avg, err := c.ReadAveraged(context.Background(), 2*time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, avg, 1e-9)
}

func TestMagicCPCParsesLogLines(t *testing.T) {
	conn := &transport.MockConn{Handler: func(sent []byte) []byte {
		if strings.HasPrefix(string(sent), "log,1") {
			return []byte("2026-08-30 10:00:00, 512.5, 21.3, ok\r\n")
		}
		return nil
	}}

	c := NewMagicCPC(transport.MockDialer{Conn: conn})
	c.SetQueryDelay(0)
	c.SetTimeout(200 * time.Millisecond)
	c.SetPollInterval(time.Millisecond)
	require.NoError(t, c.open())

	avg, err := c.ReadAveraged(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 512.5, avg, 1e-9)

	sent := conn.SentStrings()
	assert.Equal(t, "log,1\r\n", sent[0])
	assert.Equal(t, "log,0\r\n", sent[len(sent)-1])
}

func TestDummyCounter(t *testing.T) {
	d := NewDummyCounter()
	require.NoError(t, d.Connect(context.Background()))
	assert.Equal(t, Connected, d.State())

	v, err := d.ReadAveraged(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, 1000.0)

	require.NoError(t, d.Close())
	assert.Equal(t, Disconnected, d.State())
}

func TestRegistryModels(t *testing.T) {
	for _, model := range []string{"cpma", "aac", "tsi-3080", "tsi-3082"} {
		c, err := NewClassifier(model, transport.MockDialer{Conn: &transport.MockConn{}}, FlowSettings{})
		require.NoError(t, err, model)
		assert.Equal(t, model, c.Model())
		assert.True(t, IsClassifierModel(model))
	}

	for _, model := range []string{"cpc-cambustion", "cpc-tsi-30xx", "cpc-tsi-377x", "cpc-tsi-375x", "cpc-magic", "cpc-dummy"} {
		c, err := NewCounter(model, transport.MockDialer{Conn: &transport.MockConn{}})
		require.NoError(t, err, model)
		assert.Equal(t, model, c.Model())
		assert.True(t, IsCounterModel(model))
	}

	_, err := NewClassifier("smps-9000", nil, FlowSettings{})
	assert.Error(t, err)
	_, err = NewCounter("smps-9000", nil)
	assert.Error(t, err)
}

func TestRegistryTransportDefaults(t *testing.T) {
	opts, ok := SerialDefaults("tsi-3080")
	require.True(t, ok)
	assert.Equal(t, 9600, opts.BaudRate)
	assert.Equal(t, 7, opts.DataBits)
	assert.Equal(t, "E", opts.Parity)

	_, ok = SerialDefaults("tsi-3082")
	assert.False(t, ok)

	assert.Equal(t, 23, DefaultTCPPort("cpma"))
	assert.Equal(t, 3602, DefaultTCPPort("tsi-3082"))
	assert.Equal(t, 3603, DefaultTCPPort("cpc-tsi-375x"))
	assert.Equal(t, 0, DefaultTCPPort("tsi-3080"))
}
