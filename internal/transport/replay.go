package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Replay is a Transport that plays back the sensor side of a TCP session
// captured to a PCAP file. Writes are recorded and discarded; reads return
// the captured sensor-to-host payload in capture order and time out once it
// is exhausted, the same way a silent sensor would.
type Replay struct {
	sensorPort int

	mu     sync.Mutex
	stream *bytes.Reader
	sent   bytes.Buffer
	open   bool
}

// NewReplay returns a factory for PCAP replay transports. sensorPort selects
// the TCP source port of the sensor side (DefaultPort when zero).
func NewReplay(sensorPort int) Factory {
	if sensorPort == 0 {
		sensorPort = DefaultPort
	}
	return func() Transport {
		return &Replay{sensorPort: sensorPort}
	}
}

// Connect loads the capture at address (a file path).
func (r *Replay) Connect(ctx context.Context, address string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(address)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", address, err)
	}
	defer f.Close()

	payload, err := ExtractSensorStream(f, r.sensorPort)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = bytes.NewReader(payload)
	r.sent.Reset()
	r.open = true
	return nil
}

// ExtractSensorStream reads a PCAP stream and returns the concatenated TCP
// payload sent from sensorPort. Retransmitted segments are dropped by
// tracking the next expected sequence number.
func ExtractSensorStream(rd io.Reader, sensorPort int) ([]byte, error) {
	pr, err := pcapgo.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	var (
		out     bytes.Buffer
		nextSeq uint32
		started bool
	)
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok || int(tcp.SrcPort) != sensorPort || len(tcp.Payload) == 0 {
			continue
		}

		seq := tcp.Seq
		payload := tcp.Payload
		if started {
			end := seq + uint32(len(payload))
			if int32(end-nextSeq) <= 0 {
				continue // retransmission of data already taken
			}
			if int32(nextSeq-seq) > 0 {
				payload = payload[nextSeq-seq:]
				seq = nextSeq
			}
		}
		out.Write(payload)
		nextSeq = seq + uint32(len(payload))
		started = true
	}
	return out.Bytes(), nil
}

// Send records p and reports it fully written.
func (r *Replay) Send(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return 0, ErrNotConnected
	}
	return r.sent.Write(p)
}

// Receive returns the next captured bytes.
func (r *Replay) Receive(max int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return nil, ErrNotConnected
	}
	if r.stream.Len() == 0 {
		return nil, ErrTimeout
	}
	buf := make([]byte, max)
	n, _ := r.stream.Read(buf)
	return buf[:n], nil
}

// Sent returns everything written since Connect.
func (r *Replay) Sent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent.String()
}

// Close ends the replay.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}
