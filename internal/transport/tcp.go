package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// dialTimeout bounds the TCP connect itself so an unplugged instrument does
// not stall the whole connection phase.
const dialTimeout = 10 * time.Second

// TCPEndpoint identifies an instrument reached over the network.
type TCPEndpoint struct {
	Host string
	Port int
}

// Dial establishes the TCP connection.
func (e TCPEndpoint) Dial() (Conn, error) {
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &tcpConn{conn: conn}, nil
}

func (e TCPEndpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

type tcpConn struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func (c *tcpConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if _, err := c.conn.Write(p); err != nil {
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (c *tcpConn) Receive(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("tcp set deadline: %w", err)
	}

	buf := make([]byte, receiveBufSize)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("tcp read: %w", err)
	}
	return buf[:n], nil
}

func (c *tcpConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
