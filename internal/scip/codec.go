// Package scip implements the wire format of the SCIP 2.x protocol spoken by
// Hokuyo URG/UST laser rangefinders: command encoding, line-delimited reply
// framing, the modulo-64 checksum and the 6-bit packed integer encoding.
package scip

import (
	"bytes"
	"strings"
)

// Terminator ends every reply block.
var Terminator = []byte("\n\n")

// ValidateCommand checks that code is two characters, or three characters
// beginning with '%'.
func ValidateCommand(code string) error {
	switch {
	case len(code) == 2:
		return nil
	case len(code) == 3 && code[0] == '%':
		return nil
	}
	return protocolErrorf(InvalidCommandShape,
		"command must be two chars or three chars starting with %%, got %q (%d chars)", code, len(code))
}

// Request returns the request line without its trailing newline. Replies
// echo exactly this text on their first line.
func Request(code, params, aux string) (string, error) {
	if err := ValidateCommand(code); err != nil {
		return "", err
	}
	req := code + params
	if aux != "" {
		req += ";" + aux
	}
	return req, nil
}

// EncodeCommand encodes a command into its wire form:
// code + params [+ ";" + aux] + "\n".
func EncodeCommand(code, params, aux string) ([]byte, error) {
	req, err := Request(code, params, aux)
	if err != nil {
		return nil, err
	}
	return append([]byte(req), '\n'), nil
}

// Checksum computes the checksum character of b.
func Checksum(b []byte) byte {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return byte(sum&0x3F) + 0x30
}

// AppendChecksum returns s followed by its checksum character.
func AppendChecksum(s string) string {
	return s + string(Checksum([]byte(s)))
}

// VerifyChecksum checks the trailing checksum character of line and returns
// the line without it.
func VerifyChecksum(line string) (string, error) {
	if len(line) < 2 {
		return "", protocolErrorf(MalformedReply, "line %q too short to carry a checksum", line)
	}
	body, received := line[:len(line)-1], line[len(line)-1]
	if computed := Checksum([]byte(body)); computed != received {
		return "", &ChecksumError{Line: body, Computed: computed, Received: received}
	}
	return body, nil
}

// DecodeFrame splits a complete reply block into lines. The block must end
// with the blank-line terminator, which is stripped.
func DecodeFrame(raw []byte) ([]string, error) {
	if !bytes.HasSuffix(raw, Terminator) {
		return nil, protocolErrorf(MalformedReply, "reply block not terminated by blank line")
	}
	return strings.Split(string(raw[:len(raw)-len(Terminator)]), "\n"), nil
}

// Reply is a decoded reply block.
type Reply struct {
	// Header is the echoed request line.
	Header string
	// Status is the checksum-verified two character status.
	Status string
	// Payload holds the remaining lines, each still carrying its checksum.
	Payload []string
}

// ParseReply splits decoded frame lines into header, verified status and
// payload.
func ParseReply(lines []string) (*Reply, error) {
	if len(lines) < 2 {
		return nil, protocolErrorf(MalformedReply, "reply has %d lines, need at least 2", len(lines))
	}
	status, err := VerifyChecksum(lines[1])
	if err != nil {
		return nil, err
	}
	return &Reply{Header: lines[0], Status: status, Payload: lines[2:]}, nil
}
