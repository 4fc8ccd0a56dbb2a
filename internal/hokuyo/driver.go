// Package hokuyo drives Hokuyo UST/URG laser rangefinders speaking SCIP 2.x.
//
// A Driver owns one connection. Commands are strictly request/response and
// at most one is in flight; an open Stream holds the driver until it ends or
// is closed.
package hokuyo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/hokuyo/internal/clocksync"
	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/scip"
	"github.com/banshee-data/hokuyo/internal/transport"
)

// Driver talks to a single sensor.
type Driver struct {
	opts  Options
	clock *clocksync.Synchronizer

	// lock admits one command, or one open stream, at a time.
	lock chan struct{}

	connMu sync.Mutex
	conn   transport.Transport
	frames *scip.FrameReader
	// gen counts connections; stream is the open Stream, if any.
	gen    uint64
	stream *Stream

	config atomic.Pointer[SensorConfig]
}

// NewDriver returns an unconnected driver.
func NewDriver(opts Options) *Driver {
	opts = opts.withDefaults()
	clock := clocksync.New(opts.Clock, opts.TimeTolerance)
	clock.Samples = opts.SyncSamples
	clock.Interval = opts.SyncInterval
	clock.OnSync = opts.OnSync

	d := &Driver{
		opts:  opts,
		clock: clock,
		lock:  make(chan struct{}, 1),
	}
	cfg := DefaultSensorConfig()
	d.config.Store(&cfg)
	return d
}

// New connects to the sensor and runs the initialisation steps selected in
// opts: time synchronization, parameter query and laser activation, in that
// order. The connection is closed if any step fails.
func New(ctx context.Context, opts Options) (*Driver, error) {
	d := NewDriver(opts)
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	if err := d.initialize(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Driver) initialize(ctx context.Context) error {
	if d.opts.TimeSync {
		if err := d.TimeSync(ctx); err != nil {
			return fmt.Errorf("time sync: %w", err)
		}
	}
	if d.opts.Info {
		if err := d.UpdateInfo(ctx); err != nil {
			return fmt.Errorf("update info: %w", err)
		}
	}
	if d.opts.Activate {
		code, desc, err := d.Activate(ctx)
		if err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		monitoring.Logf("Laser activation: %s (%s)", desc, code)
	}
	return nil
}

// Connect opens the transport, closing any previous connection first.
func (d *Driver) Connect(ctx context.Context) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	d.dropStream()
	if d.conn != nil {
		monitoring.Logf("Closing previous connection to %s", d.opts.Address)
		if err := d.conn.Close(); err != nil {
			monitoring.Logf("failed to close previous connection: %v", err)
		}
		d.conn, d.frames = nil, nil
	}

	monitoring.Logf("Connecting to the sensor at %s", d.opts.Address)
	conn := d.opts.Transport()
	if err := conn.Connect(ctx, d.opts.Address, d.opts.Timeout); err != nil {
		return &scip.TransportError{Op: "connect", Err: err}
	}
	d.conn = conn
	d.frames = scip.NewFrameReader(conn, d.opts.BufferSize)
	return nil
}

// Close disconnects. Closing an already closed driver is a no-op. An open
// stream is ended and fails with a transport error on its next call.
func (d *Driver) Close() error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	d.dropStream()
	if d.conn == nil {
		monitoring.Debugf("Close: connection already closed")
		return nil
	}
	monitoring.Logf("Closing connection to the sensor")
	err := d.conn.Close()
	d.conn, d.frames = nil, nil
	if err != nil {
		return &scip.TransportError{Op: "close", Err: err}
	}
	return nil
}

// Address returns the configured sensor address.
func (d *Driver) Address() string {
	return d.opts.Address
}

// Config returns the sensor parameters in effect.
func (d *Driver) Config() SensorConfig {
	return *d.config.Load()
}

// ClockState returns the current host/sensor time mapping.
func (d *Driver) ClockState() clocksync.State {
	return d.clock.State()
}

// LastSync returns the most recent clock synchronization session.
func (d *Driver) LastSync() (clocksync.Session, bool) {
	return d.clock.LastSession()
}

// dropStream invalidates the current connection's stream and releases the
// driver it held. The caller must hold connMu.
func (d *Driver) dropStream() {
	d.gen++
	if s := d.stream; s != nil {
		d.stream = nil
		monitoring.Logf("Abandoning open stream %s", s.prefix)
		s.end()
	}
}

func (d *Driver) acquire(ctx context.Context) error {
	select {
	case d.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) release() {
	<-d.lock
}

func (d *Driver) current() (transport.Transport, *scip.FrameReader, error) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn == nil {
		return nil, nil, &scip.TransportError{Op: "send", Err: transport.ErrNotConnected}
	}
	return d.conn, d.frames, nil
}

// request sends one command and waits for the reply echoing it. The caller
// must hold the lock. Nothing is sent if the command shape is invalid.
func (d *Driver) request(ctx context.Context, code, params, aux string) (*scip.Reply, error) {
	req, err := scip.Request(code, params, aux)
	if err != nil {
		return nil, err
	}
	conn, frames, err := d.current()
	if err != nil {
		return nil, err
	}
	if err := send(conn, req); err != nil {
		return nil, err
	}
	return awaitReply(ctx, frames, req)
}

func send(conn transport.Transport, req string) error {
	monitoring.Debugf("> %s", req)
	b := []byte(req + "\n")
	n, err := conn.Send(b)
	if err != nil {
		return &scip.TransportError{Op: "send", Err: err}
	}
	if n != len(b) {
		return &scip.TransportError{Op: "send", Err: transport.ErrShortWrite}
	}
	return nil
}

// awaitReply reads frames until one echoes req, discarding others.
func awaitReply(ctx context.Context, frames *scip.FrameReader, req string) (*scip.Reply, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := frames.ReadFrame()
		if err != nil {
			return nil, err
		}
		if lines[0] != req {
			monitoring.Logf("Discarded data due to header mismatch: %q (waiting for %q)", lines[0], req)
			continue
		}
		reply, err := scip.ParseReply(lines)
		if err != nil {
			return nil, err
		}
		monitoring.Debugf("< %s status %s, %d payload lines", reply.Header, reply.Status, len(reply.Payload))
		return reply, nil
	}
}

// timestamp decodes a checksummed timestamp line. Streams cannot leave
// measurement mode to resync, so they use the no-resync path.
func (d *Driver) timestamp(ctx context.Context, line string, streaming bool) (int64, error) {
	raw, err := scip.DecodeTimestamp(line)
	if err != nil {
		return 0, err
	}
	if d.opts.RawTimestamps {
		return int64(raw), nil
	}
	if streaming {
		return d.clock.DecodeNoResync(raw)
	}
	return d.clock.Decode(ctx, &sampler{d: d}, raw)
}
