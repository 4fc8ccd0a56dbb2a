// Package transport provides the byte streams a SCIP sensor is reached over.
// Ethernet models (UST/UTM) listen on TCP; USB models enumerate as a CDC
// serial port; recorded sessions can be replayed from PCAP captures.
package transport

import (
	"context"
	"errors"
	"time"
)

// DefaultPort is the TCP port Ethernet sensors listen on.
const DefaultPort = 10940

// DefaultAddress is the factory default address of Ethernet sensors.
const DefaultAddress = "192.168.0.10:10940"

// Transport is a blocking byte stream with a receive timeout.
type Transport interface {
	// Connect opens the stream. timeout bounds both the connect itself and
	// every later Receive.
	Connect(ctx context.Context, address string, timeout time.Duration) error
	// Send writes p and returns the number of bytes written.
	Send(p []byte) (int, error)
	// Receive blocks until at least one byte and at most max bytes are
	// available, or fails with ErrTimeout.
	Receive(max int) ([]byte, error)
	// Close releases the stream. Closing twice is not an error.
	Close() error
}

// Factory creates an unconnected transport.
type Factory func() Transport

type timeoutError struct{}

func (timeoutError) Error() string   { return "transport: receive timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrTimeout is returned by Receive when no data arrived in time.
var ErrTimeout error = timeoutError{}

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrShortWrite   = errors.New("transport: failed to send all data")
)
