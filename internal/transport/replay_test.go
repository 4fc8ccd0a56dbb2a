package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type segment struct {
	srcPort, dstPort uint16
	seq              uint32
	payload          string
}

func writeCapture(t *testing.T, segments []segment) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, s := range segments {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{192, 168, 0, 10},
			DstIP:    net.IP{192, 168, 0, 2},
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(s.srcPort),
			DstPort: layers.TCPPort(s.dstPort),
			Seq:     s.seq,
			ACK:     true,
			PSH:     true,
			Window:  1024,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.payload)))

		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*int64(time.Millisecond)),
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		require.NoError(t, w.WritePacket(ci, buf.Bytes()))
	}
	return out.Bytes()
}

func TestExtractSensorStream(t *testing.T) {
	capture := writeCapture(t, []segment{
		{50000, DefaultPort, 1, "BM\n"},            // host request, ignored
		{DefaultPort, 50000, 100, "BM\n0"},         // sensor reply, part one
		{DefaultPort, 50000, 100, "BM\n0"},         // retransmission
		{DefaultPort, 50000, 104, "0P\n\n"},        // part two
		{DefaultPort, 50000, 106, "\n\nQT\n00P\n"}, // overlaps two bytes
		{DefaultPort, 50000, 115, "\n"},
	})

	got, err := ExtractSensorStream(bytes.NewReader(capture), DefaultPort)
	require.NoError(t, err)
	assert.Equal(t, "BM\n00P\n\nQT\n00P\n\n", string(got))
}

func TestReplayTransport(t *testing.T) {
	capture := writeCapture(t, []segment{
		{DefaultPort, 50000, 1, "%ST\n00P\n000\n\n"},
	})
	path := filepath.Join(t.TempDir(), "session.pcap")
	require.NoError(t, os.WriteFile(path, capture, 0o644))

	tr := NewReplay(0)()
	_, err := tr.Send([]byte("%ST\n"))
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, tr.Connect(context.Background(), path, time.Second))
	n, err := tr.Send([]byte("%ST\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "%ST\n", tr.(*Replay).Sent())

	first, err := tr.Receive(5)
	require.NoError(t, err)
	assert.Equal(t, "%ST\n0", string(first))
	rest, err := tr.Receive(64)
	require.NoError(t, err)
	assert.Equal(t, "0P\n000\n\n", string(rest))

	_, err = tr.Receive(64)
	assert.True(t, errors.Is(err, ErrTimeout))

	require.NoError(t, tr.Close())
}

func TestReplayTransport_MissingFile(t *testing.T) {
	tr := NewReplay(0)()
	err := tr.Connect(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), time.Second)
	assert.Error(t, err)
}
