package transport

import (
	"sync"
	"time"
)

// MockConn implements Conn with scripted behaviour for testing protocol
// adapters without hardware. Replies are either queued ahead of time or
// produced by Handler in response to each Send.
type MockConn struct {
	mu sync.Mutex

	// Sent records every payload written to the device.
	Sent [][]byte

	// Handler, if set, is invoked on each Send; a non-nil return value is
	// queued as the next reply.
	Handler func(sent []byte) []byte

	// SendErr is returned by the next Send call if set.
	SendErr error

	// ReceiveErr is returned by the next Receive call if set.
	ReceiveErr error

	// ReceiveLatency delays each successful Receive.
	ReceiveLatency time.Duration

	replies [][]byte
	closed  bool
}

// QueueReply appends canned reply chunks returned by subsequent Receives.
func (m *MockConn) QueueReply(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, chunks...)
}

// SentStrings returns everything written so far as strings.
func (m *MockConn) SentStrings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, p := range m.Sent {
		out[i] = string(p)
	}
	return out
}

// Closed reports whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockConn) Send(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.SendErr != nil {
		err := m.SendErr
		m.SendErr = nil
		return err
	}

	cp := make([]byte, len(p))
	copy(cp, p)
	m.Sent = append(m.Sent, cp)

	if m.Handler != nil {
		if reply := m.Handler(cp); reply != nil {
			m.replies = append(m.replies, reply)
		}
	}
	return nil
}

func (m *MockConn) Receive(timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.ReceiveErr != nil {
		err := m.ReceiveErr
		m.ReceiveErr = nil
		m.mu.Unlock()
		return nil, err
	}
	if len(m.replies) == 0 {
		m.mu.Unlock()
		// A silent device: report the timeout without actually waiting so
		// timeout paths stay fast under test.
		return nil, ErrTimeout
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	latency := m.ReceiveLatency
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return reply, nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockDialer hands out a fixed Conn, or fails with Err.
type MockDialer struct {
	Conn Conn
	Err  error
	Name string
}

func (d MockDialer) Dial() (Conn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}

func (d MockDialer) String() string {
	if d.Name != "" {
		return d.Name
	}
	return "mock"
}
