package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// TCP is a Transport over a TCP connection.
type TCP struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// NewTCP returns an unconnected TCP transport.
func NewTCP() Transport {
	return &TCP{}
}

// Connect dials address. A previously open connection is closed first.
func (t *TCP) Connect(ctx context.Context, address string, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	t.conn = conn
	t.timeout = timeout
	return nil
}

func (t *TCP) current() (net.Conn, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.timeout
}

// Send writes p in full or reports how much was written.
func (t *TCP) Send(p []byte) (int, error) {
	conn, timeout := t.current()
	if conn == nil {
		return 0, ErrNotConnected
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	return conn.Write(p)
}

// Receive reads up to max bytes, honouring the connect timeout.
func (t *TCP) Receive(max int) ([]byte, error) {
	conn, timeout := t.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, max)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// Close closes the connection if one is open.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
