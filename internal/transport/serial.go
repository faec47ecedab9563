package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialEndpoint identifies an instrument reached over a local serial port.
type SerialEndpoint struct {
	Path    string
	Options PortOptions
}

// Dial opens the serial port with the configured mode.
func (e SerialEndpoint) Dial() (Conn, error) {
	mode, err := e.Options.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(e.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", e.Path, err)
	}

	return &serialConn{port: port}, nil
}

func (e SerialEndpoint) String() string {
	opts, err := e.Options.Normalize()
	if err != nil {
		return e.Path
	}
	return fmt.Sprintf("%s@%d%s%d", e.Path, opts.BaudRate, opts.Parity, opts.StopBits)
}

type serialConn struct {
	mu     sync.Mutex
	port   serial.Port
	closed bool
}

func (c *serialConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

func (c *serialConn) Receive(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	port := c.port
	c.mu.Unlock()

	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("serial set read timeout: %w", err)
	}

	buf := make([]byte, receiveBufSize)
	n, err := port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("serial read: %w", err)
	}
	// go.bug.st/serial signals an expired read timeout as a zero-byte read.
	if n == 0 {
		return nil, ErrTimeout
	}
	return buf[:n], nil
}

func (c *serialConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}
