package instrument

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

const (
	// defaultTimeout bounds how long a reply may take end to end.
	defaultTimeout = 3 * time.Second

	// receivePoll slices a reply wait into short transport reads so context
	// cancellation is observed promptly.
	receivePoll = 250 * time.Millisecond
)

// Client is the line-oriented request/response core shared by all adapters.
// Commands are CR/LF-terminated; a reply is complete once replySuffix
// appears in the accumulated stream.
type Client struct {
	dialer      transport.Dialer
	timeout     time.Duration
	queryDelay  time.Duration
	replySuffix string

	mu    sync.Mutex
	conn  transport.Conn
	state ConnState
}

// NewClient builds a Client with line-reply defaults. Adapters adjust the
// timing and the reply terminator for their model.
func NewClient(dialer transport.Dialer) *Client {
	return &Client{
		dialer:      dialer,
		timeout:     defaultTimeout,
		replySuffix: "\r\n",
	}
}

// Endpoint returns the dialer this client was built with.
func (c *Client) Endpoint() transport.Dialer { return c.dialer }

// SetTimeout overrides the reply timeout.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// SetQueryDelay sets the pause between sending a query and reading its
// reply. Some instruments drop characters if polled immediately.
func (c *Client) SetQueryDelay(d time.Duration) { c.queryDelay = d }

// SetReplySuffix sets the marker that terminates a complete reply.
func (c *Client) SetReplySuffix(s string) { c.replySuffix = s }

// State reports the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// open dials the endpoint. Adapters call this from Connect before their
// identity handshake.
func (c *Client) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	c.state = Connecting

	conn, err := c.dialer.Dial()
	if err != nil {
		c.state = Faulted
		return connectErr("%s: %v", c.dialer, err)
	}
	c.conn = conn
	c.state = Connected
	return nil
}

// Close tears down the transport. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.state = Disconnected
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = Disconnected
	return err
}

func (c *Client) connected() (transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, commsErr("%s: not connected", c.dialer)
	}
	return c.conn, nil
}

// send transmits cmd with the CR/LF terminator appended.
func (c *Client) send(cmd string) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	if err := conn.Send([]byte(cmd + "\r\n")); err != nil {
		c.setState(Faulted)
		return commsErr("%s: send %q: %v", c.dialer, cmd, err)
	}
	return nil
}

// sendRaw transmits bytes verbatim, used for wake and break sequences.
func (c *Client) sendRaw(p []byte) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	if err := conn.Send(p); err != nil {
		c.setState(Faulted)
		return commsErr("%s: send raw: %v", c.dialer, err)
	}
	return nil
}

// readReply accumulates transport chunks until the reply terminator appears
// or the timeout elapses. The terminator is stripped from the result.
func (c *Client) readReply(ctx context.Context) (string, error) {
	conn, err := c.connected()
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.timeout)
	var buf strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.setState(Faulted)
			return "", commsErr("%s: no reply within %s", c.dialer, c.timeout)
		}
		slice := remaining
		if slice > receivePoll {
			slice = receivePoll
		}

		chunk, err := conn.Receive(slice)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			c.setState(Faulted)
			return "", commsErr("%s: receive: %v", c.dialer, err)
		}

		buf.Write(chunk)
		if idx := strings.Index(buf.String(), c.replySuffix); idx >= 0 {
			return buf.String()[:idx], nil
		}
	}
}

// query sends cmd and returns the reply, honouring the model's query delay.
func (c *Client) query(ctx context.Context, cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	if c.queryDelay > 0 {
		if err := sleepCtx(ctx, c.queryDelay); err != nil {
			return "", err
		}
	}
	return c.readReply(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
