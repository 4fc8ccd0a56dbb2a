package scip

// Widths of packed values in characters.
const (
	TwoCharEncoding   = 2
	ThreeCharEncoding = 3
	TimestampWidth    = 4
)

const maxPackedWidth = 5

// DecodePacked decodes a big-endian sequence of 6-bit characters, each
// carrying (c - 0x30).
func DecodePacked(s string) (uint32, error) {
	if len(s) == 0 || len(s) > maxPackedWidth {
		return 0, protocolErrorf(MalformedPayload, "packed value %q has width %d", s, len(s))
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x30 || c > 0x6F {
			return 0, protocolErrorf(MalformedPayload, "character %q outside 6-bit range", c)
		}
		v = v<<6 | uint32(c-0x30)
	}
	return v, nil
}

// JoinBlocks verifies the checksum of every payload line independently and
// concatenates their data.
func JoinBlocks(lines []string) (string, error) {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	buf := make([]byte, 0, n)
	for _, l := range lines {
		body, err := VerifyChecksum(l)
		if err != nil {
			return "", err
		}
		buf = append(buf, body...)
	}
	return string(buf), nil
}

// DecodeValues splits data into width-character units and decodes each.
func DecodeValues(data string, width int) ([]uint32, error) {
	if width <= 0 || width > maxPackedWidth {
		return nil, protocolErrorf(MalformedPayload, "unsupported encoding width %d", width)
	}
	if len(data)%width != 0 {
		return nil, protocolErrorf(MalformedPayload, "payload length %d not divisible by %d", len(data), width)
	}
	values := make([]uint32, len(data)/width)
	for i := range values {
		v, err := DecodePacked(data[i*width : (i+1)*width])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// DecodeBlocks is JoinBlocks followed by DecodeValues.
func DecodeBlocks(lines []string, width int) ([]uint32, error) {
	data, err := JoinBlocks(lines)
	if err != nil {
		return nil, err
	}
	return DecodeValues(data, width)
}

// DecodeTimestamp verifies and decodes a timestamp line (four packed
// characters plus checksum) into raw sensor milliseconds.
func DecodeTimestamp(line string) (uint32, error) {
	body, err := VerifyChecksum(line)
	if err != nil {
		return 0, err
	}
	if len(body) != TimestampWidth {
		return 0, protocolErrorf(MalformedPayload, "timestamp %q has %d chars, want %d", body, len(body), TimestampWidth)
	}
	return DecodePacked(body)
}

// EncodePacked is the inverse of DecodePacked for fixed width. The driver
// never sends packed values; this exists for simulators and tests.
func EncodePacked(v uint32, width int) string {
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v&0x3F) + 0x30
		v >>= 6
	}
	return string(b)
}

// EncodeBlocks splits data into checksummed lines of at most lineLen
// characters, the layout the sensor uses for scan payloads.
func EncodeBlocks(data string, lineLen int) []string {
	var lines []string
	for len(data) > lineLen {
		lines = append(lines, AppendChecksum(data[:lineLen]))
		data = data[lineLen:]
	}
	if len(data) > 0 {
		lines = append(lines, AppendChecksum(data))
	}
	return lines
}

// BlockLength is the data length of a full scan payload line.
const BlockLength = 64
