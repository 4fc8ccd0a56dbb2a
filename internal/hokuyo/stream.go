package hokuyo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/scip"
	"github.com/banshee-data/hokuyo/internal/transport"
)

// StreamRequest describes a continuous measurement.
type StreamRequest struct {
	ScanRequest
	// Count is the number of scans to deliver, 1..99; 0 streams until
	// closed.
	Count int
	// Skip drops this many scans between deliveries, 0..9.
	Skip int
}

// Frame is one delivered scan.
type Frame struct {
	Scan      Scan  `json:"scan"`
	Timestamp int64 `json:"timestamp"`
	// Remaining is the device's count of scans still to come. Always zero
	// for unbounded streams.
	Remaining int `json:"remaining"`
}

// ErrStaleStream is wrapped in the TransportError returned by a Stream whose
// connection was closed or replaced.
var ErrStaleStream = errors.New("hokuyo: stream belongs to a closed connection")

// Stream reads continuous scan replies. It holds the driver until the last
// bounded scan is read, a transport error occurs, Close is called, or the
// driver reconnects or closes. A Stream is not safe for concurrent use;
// close the Driver to interrupt a blocked Next from another goroutine.
type Stream struct {
	d      *Driver
	gen    uint64
	conn   transport.Transport
	frames *scip.FrameReader
	cfg    SensorConfig
	plan   scanPlan
	count  int
	// prefix is the command and parameters without the count field; every
	// data reply header starts with it.
	prefix string

	done        atomic.Bool
	releaseOnce sync.Once
}

// OpenStream starts a continuous measurement. The clock is synchronized
// first if it never was, since the sensor cannot resync while streaming.
func (d *Driver) OpenStream(ctx context.Context, req StreamRequest) (*Stream, error) {
	cfg := d.Config()
	p, err := req.plan(cfg, "M")
	if err != nil {
		return nil, err
	}
	if req.Count < 0 || req.Count > 99 {
		return nil, fmt.Errorf("%w: scan count %d not in 0..99", ErrInvalidRequest, req.Count)
	}
	if req.Skip < 0 || req.Skip > 9 {
		return nil, fmt.Errorf("%w: skip %d not in 0..9", ErrInvalidRequest, req.Skip)
	}
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}

	s, err := d.openStream(ctx, cfg, p, req)
	if err != nil {
		d.release()
		return nil, err
	}
	return s, nil
}

func (d *Driver) openStream(ctx context.Context, cfg SensorConfig, p scanPlan, req StreamRequest) (*Stream, error) {
	if !d.opts.RawTimestamps && !d.clock.State().Synced {
		if err := d.clock.Estimate(ctx, &sampler{d: d}); err != nil {
			return nil, fmt.Errorf("time sync before stream: %w", err)
		}
	}

	params := p.params() + fmt.Sprintf("%01d%02d", req.Skip, req.Count)
	monitoring.Logf("Initializing continuous measurement %s%s", p.command, params)
	reply, err := d.request(ctx, p.command, params, "")
	if err != nil {
		return nil, err
	}
	if reply.Status != scip.StatusOK {
		return nil, scip.NewStatusError(p.command, reply.Status, nil)
	}
	s := &Stream{
		d:      d,
		cfg:    cfg,
		plan:   p,
		count:  req.Count,
		prefix: p.command + params[:len(params)-2],
	}
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn == nil {
		return nil, &scip.TransportError{Op: "receive", Err: transport.ErrNotConnected}
	}
	s.gen, s.conn, s.frames = d.gen, d.conn, d.frames
	d.stream = s
	return s, nil
}

// stale reports whether the driver has reconnected or closed since the
// stream was opened.
func (s *Stream) stale() bool {
	s.d.connMu.Lock()
	defer s.d.connMu.Unlock()
	return s.gen != s.d.gen
}

// Next returns the next scan. After the last scan of a bounded stream it
// returns io.EOF. Unstable (0M) replies are skipped. A timestamp whose drift
// needs a resync yields clocksync.ErrResyncRequired; the stream stays open,
// even when the failed frame was the last one, until Close.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	if s.stale() {
		return Frame{}, &scip.TransportError{Op: "receive", Err: ErrStaleStream}
	}
	if s.done.Load() {
		return Frame{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		lines, err := s.frames.ReadFrame()
		if err != nil {
			if scip.IsTransport(err) {
				s.finish()
			}
			return Frame{}, err
		}

		header := lines[0]
		if !strings.HasPrefix(header, s.prefix) || len(header) < len(s.prefix)+2 {
			return Frame{}, &scip.ProtocolError{Kind: scip.HeaderMismatch,
				Detail: fmt.Sprintf("scan reply header %q does not start with %q", header, s.prefix)}
		}
		remaining, err := strconv.Atoi(header[len(s.prefix) : len(s.prefix)+2])
		if err != nil {
			return Frame{}, &scip.ProtocolError{Kind: scip.HeaderMismatch,
				Detail: fmt.Sprintf("scan reply header %q has no remaining count", header)}
		}
		reply, err := scip.ParseReply(lines)
		if err != nil {
			return Frame{}, err
		}
		switch reply.Status {
		case scip.StatusScanData:
		case scip.StatusUnstable:
			monitoring.Logf("Unstable scanner condition")
			continue
		default:
			return Frame{}, scip.NewStatusError(s.plan.command, reply.Status, nil)
		}
		if len(reply.Payload) == 0 {
			return Frame{}, &scip.ProtocolError{Kind: scip.MalformedReply, Detail: "scan reply has no timestamp"}
		}

		scan, err := s.plan.decode(s.cfg, reply.Payload[1:])
		if err != nil {
			return Frame{}, err
		}
		ts, err := s.d.timestamp(ctx, reply.Payload[0], true)
		if err != nil {
			return Frame{}, err
		}
		if s.count > 0 && remaining == 0 {
			s.finish()
		}
		monitoring.Debugf("Got scan %s, %d samples, %d remaining", header, len(scan.Samples), remaining)
		return Frame{Scan: scan, Timestamp: ts, Remaining: remaining}, nil
	}
}

// All iterates the stream until io.EOF or the first error, which is yielded.
func (s *Stream) All(ctx context.Context) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Close stops the measurement with QT and discards scans still in flight.
// It is a no-op once the stream has ended, and fails with a TransportError
// if the driver has since reconnected or closed.
func (s *Stream) Close(ctx context.Context) error {
	if s.stale() {
		return &scip.TransportError{Op: "send", Err: ErrStaleStream}
	}
	if s.done.Load() {
		return nil
	}
	defer s.finish()

	monitoring.Logf("Stopping continuous measurement")
	if err := send(s.conn, "QT"); err != nil {
		return err
	}
	reply, err := awaitReply(ctx, s.frames, "QT")
	if err != nil {
		return err
	}
	if reply.Status != scip.StatusOK {
		return scip.NewStatusError("QT", reply.Status, nil)
	}
	return nil
}

// Done reports whether the stream has ended.
func (s *Stream) Done() bool {
	return s.done.Load()
}

// finish ends the stream and unregisters it from the driver.
func (s *Stream) finish() {
	s.d.connMu.Lock()
	if s.d.stream == s {
		s.d.stream = nil
	}
	s.d.connMu.Unlock()
	s.end()
}

// end marks the stream done and releases the driver once.
func (s *Stream) end() {
	s.done.Store(true)
	s.releaseOnce.Do(s.d.release)
}
