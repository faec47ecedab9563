// Package transport provides a uniform byte-stream abstraction over the two
// link types instruments are reached on: a local serial port or a TCP/IP
// socket. Protocol adapters are written against Conn and never know which
// one they are talking through.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no data arrived within the
	// requested window.
	ErrTimeout = errors.New("transport: receive timeout")

	// ErrClosed is returned by Send and Receive after Close.
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is an open byte stream to a device. Implementations own the
// underlying OS resource; Close is idempotent.
type Conn interface {
	// Send writes the full payload to the device.
	Send(p []byte) error

	// Receive returns whatever bytes the device produced, waiting at most
	// timeout for the first byte. It returns ErrTimeout if nothing arrived.
	Receive(timeout time.Duration) ([]byte, error)

	Close() error
}

// Dialer describes an endpoint that can be opened into a Conn. Endpoint
// selection (serial vs network) is a configuration-time choice.
type Dialer interface {
	Dial() (Conn, error)
	String() string
}

// receiveBufSize bounds a single Receive read. Instrument replies are short
// command lines; 4 KiB matches the largest monitor dump we see in practice.
const receiveBufSize = 4096
