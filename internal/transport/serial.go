package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialPorter is the subset of serial.Port the transport needs.
type SerialPorter interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// SerialOpener opens a serial port. It exists so tests can substitute a fake
// port for real hardware.
type SerialOpener func(path string, mode *serial.Mode) (SerialPorter, error)

func openSerialPort(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// Serial is a Transport over a serial device such as /dev/ttyACM0.
type Serial struct {
	opts PortOptions
	open SerialOpener

	mu   sync.Mutex
	port SerialPorter
}

// NewSerial returns a factory for serial transports using opts.
func NewSerial(opts PortOptions) Factory {
	return func() Transport {
		return &Serial{opts: opts, open: openSerialPort}
	}
}

// NewSerialWithOpener is NewSerial with a custom port opener.
func NewSerialWithOpener(opts PortOptions, open SerialOpener) Factory {
	return func() Transport {
		return &Serial{opts: opts, open: open}
	}
}

// Connect opens the device at address (a path). The context is only checked
// before opening since serial opens do not block meaningfully.
func (s *Serial) Connect(ctx context.Context, address string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode, err := s.opts.SerialMode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
	port, err := s.open(address, mode)
	if err != nil {
		return err
	}
	if timeout > 0 {
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return err
		}
	}
	s.port = port
	return nil
}

func (s *Serial) current() SerialPorter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Send writes p to the port.
func (s *Serial) Send(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, ErrNotConnected
	}
	return port.Write(p)
}

// Receive reads up to max bytes. go.bug.st/serial reports an expired read
// timeout as a zero-length read, which is mapped to ErrTimeout.
func (s *Serial) Receive(max int) ([]byte, error) {
	port := s.current()
	if port == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, max)
	n, err := port.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrTimeout
}

// Close closes the port if open.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
