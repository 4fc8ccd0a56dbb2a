package scip

import (
	"bytes"
	"errors"
)

// Receiver is the read half of a transport.
type Receiver interface {
	// Receive blocks until at most max bytes are available or the transport
	// timeout elapses.
	Receive(max int) ([]byte, error)
}

// FrameReader accumulates partial reads until a full reply block is present.
// Bytes following a terminator are kept for the next call, since continuous
// scan replies can arrive back to back in one read.
type FrameReader struct {
	r       Receiver
	bufSize int
	pending []byte
}

// DefaultBufferSize is the receive chunk size used when none is configured.
const DefaultBufferSize = 512

// NewFrameReader returns a FrameReader pulling bufSize byte chunks from r.
func NewFrameReader(r Receiver, bufSize int) *FrameReader {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &FrameReader{r: r, bufSize: bufSize}
}

// ReadFrame returns the lines of the next complete reply block. A failed
// receive discards whatever was buffered so a later read starts clean.
func (f *FrameReader) ReadFrame() ([]string, error) {
	for {
		if i := bytes.Index(f.pending, Terminator); i >= 0 {
			end := i + len(Terminator)
			frame := f.pending[:end]
			f.pending = append([]byte(nil), f.pending[end:]...)
			return DecodeFrame(frame)
		}
		chunk, err := f.r.Receive(f.bufSize)
		if err != nil {
			f.pending = nil
			if isTimeout(err) {
				return nil, &TransportError{Op: "receive", Err: &ProtocolError{Kind: Timeout, Detail: err.Error()}}
			}
			return nil, &TransportError{Op: "receive", Err: err}
		}
		f.pending = append(f.pending, chunk...)
	}
}

// Reset drops any buffered bytes.
func (f *FrameReader) Reset() {
	f.pending = nil
}

// Buffered returns the number of bytes held for the next frame.
func (f *FrameReader) Buffered() int {
	return len(f.pending)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
