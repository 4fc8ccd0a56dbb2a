package scip

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies framing and sequencing failures.
type ProtocolErrorKind int

const (
	InvalidCommandShape ProtocolErrorKind = iota + 1
	Timeout
	HeaderMismatch
	UnexpectedState
	MalformedPayload
	MalformedReply
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case InvalidCommandShape:
		return "invalid command shape"
	case Timeout:
		return "timeout"
	case HeaderMismatch:
		return "header mismatch"
	case UnexpectedState:
		return "unexpected state"
	case MalformedPayload:
		return "malformed payload"
	case MalformedReply:
		return "malformed reply"
	default:
		return fmt.Sprintf("protocol error %d", int(k))
	}
}

// ProtocolError reports a reply or request that does not fit the protocol:
// bad command shapes, mismatched echoes, unresolvable device states and
// payloads of the wrong length. It usually means a framing bug or firmware
// mismatch and is never recovered locally.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "scip: " + e.Kind.String()
	}
	return "scip: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any *ProtocolError of the same kind, so the sentinel values below
// work with errors.Is regardless of Detail.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidCommandShape = &ProtocolError{Kind: InvalidCommandShape}
	ErrTimeout             = &ProtocolError{Kind: Timeout}
	ErrHeaderMismatch      = &ProtocolError{Kind: HeaderMismatch}
	ErrUnexpectedState     = &ProtocolError{Kind: UnexpectedState}
	ErrMalformedPayload    = &ProtocolError{Kind: MalformedPayload}
	ErrMalformedReply      = &ProtocolError{Kind: MalformedReply}
)

func protocolErrorf(kind ProtocolErrorKind, format string, v ...interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: fmt.Sprintf(format, v...)}
}

// TransportError wraps a failure of the underlying byte stream: connect
// failures, short writes, closed connections and receive timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scip: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a receive timeout.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// IsTransport reports whether err originated in the transport rather than in
// the protocol or the device. Unbounded scan streams end this way when the
// sensor is switched to standby by someone else.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ChecksumError reports a line whose trailing checksum character does not
// match the computed one.
type ChecksumError struct {
	Line     string
	Computed byte
	Received byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("scip: checksum mismatch for %q: computed %q, received %q", e.Line, e.Computed, e.Received)
}

// StatusError is returned when the device answers a command with a status
// code the caller did not accept.
type StatusError struct {
	Command     string
	Code        string
	Description string
}

func (e *StatusError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("scip: status %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("scip: %s: status %s (%s)", e.Command, e.Code, e.Description)
}

// NewStatusError builds a StatusError, resolving the description from table
// first and the shared error table second.
func NewStatusError(command, code string, table map[string]string) *StatusError {
	desc, ok := table[code]
	if !ok {
		desc = DescribeStatus(code)
	}
	return &StatusError{Command: command, Code: code, Description: desc}
}
