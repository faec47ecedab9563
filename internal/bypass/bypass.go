// Package bypass drives the auxiliary valve microcontroller that routes
// aerosol around the classifiers for baseline measurements. The protocol is
// a single serial line with newline-terminated ASCII commands "on" / "off";
// the device actuates its two outputs with an internal stagger and answers
// "ByPass on" / "ByPass off".
package bypass

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// ErrComms reports a timeout or transport failure talking to the valve.
var ErrComms = errors.New("bypass: communication failure")

const (
	// DefaultSettleDelay matches the valve's actuation stagger: the second
	// output switches five seconds after the first.
	DefaultSettleDelay = 5 * time.Second

	// DefaultReplyTimeout bounds the wait for the acknowledgement line.
	DefaultReplyTimeout = 3 * time.Second

	receivePoll = 250 * time.Millisecond
)

// Controller is the protocol client for the valve microcontroller.
type Controller struct {
	dialer transport.Dialer

	// SettleDelay is waited after every acknowledged command so the valve
	// has fully actuated before the scan proceeds. Shorten it in tests.
	SettleDelay time.Duration

	// ReplyTimeout bounds the wait for the acknowledgement line.
	ReplyTimeout time.Duration

	mu      sync.Mutex
	conn    transport.Conn
	engaged bool
}

// New builds a Controller with the valve's stock timing.
func New(dialer transport.Dialer) *Controller {
	return &Controller{
		dialer:       dialer,
		SettleDelay:  DefaultSettleDelay,
		ReplyTimeout: DefaultReplyTimeout,
	}
}

// Connect opens the serial line to the microcontroller.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := c.dialer.Dial()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrComms, c.dialer, err)
	}
	c.conn = conn
	return nil
}

// Close drops the serial line. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Engaged reports whether the last acknowledged command switched the valve
// on.
func (c *Controller) Engaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engaged
}

// SetBypass switches the valve and waits the full settle delay before
// returning, even when re-issuing the current state. Unrecognised lines
// from the device are skipped; a missing acknowledgement within the reply
// timeout is ErrComms.
func (c *Controller) SetBypass(ctx context.Context, on bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrComms)
	}

	cmd, ack := "off", "ByPass off"
	if on {
		cmd, ack = "on", "ByPass on"
	}

	if err := conn.Send([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("%w: send %q: %v", ErrComms, cmd, err)
	}

	if err := c.awaitAck(ctx, conn, ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.engaged = on
	c.mu.Unlock()

	// The acknowledgement arrives when the first output switches; the
	// second output follows after the stagger.
	return sleepCtx(ctx, c.SettleDelay)
}

func (c *Controller) awaitAck(ctx context.Context, conn transport.Conn, ack string) error {
	deadline := time.Now().Add(c.ReplyTimeout)
	var buf strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: no %q acknowledgement within %s", ErrComms, ack, c.ReplyTimeout)
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
			return fmt.Errorf("%w: receive: %v", ErrComms, err)
		}

		buf.Write(chunk)
		for {
			line, rest, found := strings.Cut(buf.String(), "\n")
			if !found {
				break
			}
			if strings.TrimSpace(line) == ack {
				return nil
			}
			// Anything else is an unrecognised line; keep waiting.
			buf.Reset()
			buf.WriteString(rest)
		}
	}
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
