package scip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		params string
		aux    string
		want   string
	}{
		{"two char", "BM", "", "", "BM\n"},
		{"with params", "GD", "0000108000", "", "GD0000108000\n"},
		{"with aux string", "MD", "000010800000", "tag", "MD000010800000;tag\n"},
		{"percent command", "%ST", "", "", "%ST\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCommand(tt.code, tt.params, tt.aux)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncodeCommand_RejectsBadShape(t *testing.T) {
	for _, code := range []string{"", "B", "BMX", "ABCD", "%S", "%STX"} {
		_, err := EncodeCommand(code, "", "")
		if !errors.Is(err, ErrInvalidCommandShape) {
			t.Errorf("EncodeCommand(%q) error = %v, want invalid command shape", code, err)
		}
	}
}

func TestChecksum(t *testing.T) {
	// Status "00" carries checksum 'P' on the wire.
	assert.Equal(t, byte('P'), Checksum([]byte("00")))
	assert.Equal(t, "99b", AppendChecksum("99"))
}

func TestVerifyChecksum_RoundTrip(t *testing.T) {
	payloads := []string{
		"00",
		"DMIN:20",
		"MODL:UST-10LX(Hokuyo Automatic Co.,Ltd.)",
		"0C70C70C70C70C70C70C70C70C70C70C70C70C70C70C70C70C70C70C70C70C7",
		"~}|{zyxwvutsrqponmlkjihgfedcba`_^]",
	}
	for _, p := range payloads {
		got, err := VerifyChecksum(AppendChecksum(p))
		require.NoError(t, err, "payload %q", p)
		assert.Equal(t, p, got)
	}
}

func TestVerifyChecksum_DetectsSingleCharMutation(t *testing.T) {
	line := AppendChecksum("PROT:SCIP 2.2")
	for i := 0; i < len(line); i++ {
		b := []byte(line)
		// +1 stays in printable range and never shifts by a multiple of 64
		if b[i] == '~' {
			b[i] = '}'
		} else {
			b[i]++
		}
		_, err := VerifyChecksum(string(b))
		var ce *ChecksumError
		if !errors.As(err, &ce) {
			t.Fatalf("mutation at %d of %q: error = %v, want ChecksumError", i, line, err)
		}
		if ce.Computed == ce.Received {
			t.Errorf("mutation at %d reported equal computed and received %q", i, ce.Computed)
		}
	}
}

func TestVerifyChecksum_TooShort(t *testing.T) {
	_, err := VerifyChecksum("P")
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeFrame(t *testing.T) {
	lines, err := DecodeFrame([]byte("BM\n00P\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BM", "00P"}, lines)

	_, err = DecodeFrame([]byte("BM\n00P\n"))
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestParseReply(t *testing.T) {
	reply, err := ParseReply([]string{"TM1", "00P", AppendChecksum("0000")})
	require.NoError(t, err)
	assert.Equal(t, "TM1", reply.Header)
	assert.Equal(t, "00", reply.Status)
	assert.Len(t, reply.Payload, 1)

	_, err = ParseReply([]string{"BM"})
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = ParseReply([]string{"BM", "00Q"})
	var ce *ChecksumError
	assert.ErrorAs(t, err, &ce)
}

func TestStatusErrorDescription(t *testing.T) {
	err := NewStatusError("BM", "01", ActivationStatuses)
	assert.Equal(t, ActivationStatuses["01"], err.Description)

	err = NewStatusError("QT", "0L", nil)
	assert.Equal(t, "AbnormalState", err.Description)

	err = NewStatusError("QT", "7Z", nil)
	assert.Equal(t, "Unknown", err.Description)
	assert.Contains(t, err.Error(), "7Z")
}

func TestProtocolErrorIs(t *testing.T) {
	err := protocolErrorf(HeaderMismatch, "got %q", "MD")
	assert.ErrorIs(t, err, ErrHeaderMismatch)
	assert.NotErrorIs(t, err, ErrMalformedPayload)
}
