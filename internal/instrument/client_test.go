package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

func newTestClient(conn *transport.MockConn) *Client {
	c := NewClient(transport.MockDialer{Conn: conn})
	c.SetTimeout(200 * time.Millisecond)
	return c
}

func TestClientReplyAccumulatesChunks(t *testing.T) {
	conn := &transport.MockConn{}
	conn.QueueReply([]byte("OK 1.23"), []byte("45\r"), []byte("\nnext"))

	c := newTestClient(conn)
	require.NoError(t, c.open())

	reply, err := c.readReply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK 1.2345", reply)
}

func TestClientReplySuffixOverride(t *testing.T) {
	conn := &transport.MockConn{}
	conn.QueueReply([]byte("Cambustion CPMA v2.1\r\n>"))

	c := newTestClient(conn)
	c.SetReplySuffix("\r\n>")
	require.NoError(t, c.open())

	reply, err := c.readReply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Cambustion CPMA v2.1", reply)
}

func TestClientReplyTimeout(t *testing.T) {
	c := newTestClient(&transport.MockConn{})
	c.SetTimeout(20 * time.Millisecond)
	require.NoError(t, c.open())

	_, err := c.readReply(context.Background())
	assert.ErrorIs(t, err, ErrComms)
	assert.Equal(t, Faulted, c.State())
}

func TestClientReplyContextCancel(t *testing.T) {
	c := newTestClient(&transport.MockConn{})
	c.SetTimeout(5 * time.Second)
	require.NoError(t, c.open())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.readReply(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientQueryAppendsTerminator(t *testing.T) {
	conn := &transport.MockConn{}
	conn.QueueReply([]byte("42\r\n"))

	c := newTestClient(conn)
	require.NoError(t, c.open())

	reply, err := c.query(context.Background(), "RD")
	require.NoError(t, err)
	assert.Equal(t, "42", reply)
	assert.Equal(t, []string{"RD\r\n"}, conn.SentStrings())
}

func TestClientSendWithoutConnection(t *testing.T) {
	c := newTestClient(&transport.MockConn{})
	err := c.send("RD")
	assert.ErrorIs(t, err, ErrComms)
}

func TestClientCloseIdempotent(t *testing.T) {
	conn := &transport.MockConn{}
	c := newTestClient(conn)
	require.NoError(t, c.open())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Disconnected, c.State())
	assert.True(t, conn.Closed())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "faulted", Faulted.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}
