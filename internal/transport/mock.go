package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Responder produces the bytes a device sends back for one request line
// (without its newline).
type Responder interface {
	Respond(request string) []byte
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(request string) []byte

func (f ResponderFunc) Respond(request string) []byte { return f(request) }

// ErrClosed is returned by Mock after Close.
var ErrClosed = errors.New("transport: mock closed")

// Mock is an in-memory Transport with configurable behaviour for tests and
// dev mode. Every complete line written is handed to Responder and the
// answer is queued for Receive. An empty read queue times out immediately
// unless BlockReads is set.
type Mock struct {
	mu sync.Mutex

	// Responder answers requests; nil means requests get no answer.
	Responder Responder

	// ReadBuffer holds data to be returned by Receive calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written with Send.
	WriteBuffer *bytes.Buffer

	// ConnectError is returned by the next Connect call if set.
	ConnectError error

	// ReceiveError is returned by the next Receive call if set.
	ReceiveError error

	// SendError is returned by the next Send call if set.
	SendError error

	// ShortWrite makes Send report one byte fewer than requested.
	ShortWrite bool

	// BlockReads causes Receive to block until data is added or Close is
	// called instead of timing out.
	BlockReads bool

	// Connected and Closed track lifecycle; ConnectCalls and CloseCalls count
	// the calls.
	Connected    bool
	Closed       bool
	ConnectCalls int
	CloseCalls   int
	Address      string
	Timeout      time.Duration

	pendingLine []byte
	requests    []string
	readCond    *sync.Cond
}

// NewMock creates a Mock answering through r.
func NewMock(r Responder) *Mock {
	m := &Mock{
		Responder:   r,
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	m.readCond = sync.NewCond(&m.mu)
	return m
}

// Factory returns a Factory that always hands out m.
func (m *Mock) Factory() Factory {
	return func() Transport { return m }
}

// Connect marks the mock connected.
func (m *Mock) Connect(ctx context.Context, address string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ConnectError != nil {
		err := m.ConnectError
		m.ConnectError = nil
		return err
	}
	m.Connected = true
	m.Closed = false
	m.Address = address
	m.Timeout = timeout
	m.pendingLine = nil
	return nil
}

// Send records p and answers every complete line.
func (m *Mock) Send(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Connected || m.Closed {
		return 0, ErrClosed
	}
	if m.SendError != nil {
		err := m.SendError
		m.SendError = nil
		return 0, err
	}
	m.WriteBuffer.Write(p)

	m.pendingLine = append(m.pendingLine, p...)
	for {
		i := bytes.IndexByte(m.pendingLine, '\n')
		if i < 0 {
			break
		}
		line := string(m.pendingLine[:i])
		m.pendingLine = m.pendingLine[i+1:]
		m.requests = append(m.requests, line)
		if m.Responder != nil {
			m.ReadBuffer.Write(m.Responder.Respond(line))
		}
	}
	m.readCond.Broadcast()

	if m.ShortWrite && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

// Receive returns up to max queued bytes.
func (m *Mock) Receive(max int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReceiveError != nil {
		err := m.ReceiveError
		m.ReceiveError = nil
		return nil, err
	}
	if m.BlockReads {
		for !m.Closed && m.ReadBuffer.Len() == 0 {
			m.readCond.Wait()
		}
	}
	if m.Closed || !m.Connected {
		return nil, io.EOF
	}
	if m.ReadBuffer.Len() == 0 {
		return nil, ErrTimeout
	}
	buf := make([]byte, max)
	n, _ := m.ReadBuffer.Read(buf)
	return buf[:n], nil
}

// Close marks the mock closed and wakes blocked readers.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	m.Closed = true
	m.Connected = false
	m.readCond.Broadcast()
	return nil
}

// Push queues unsolicited device output.
func (m *Mock) Push(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBuffer.Write(data)
	m.readCond.Broadcast()
}

// Requests returns the request lines received so far.
func (m *Mock) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// Written returns all data written with Send.
func (m *Mock) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WriteBuffer.String()
}
