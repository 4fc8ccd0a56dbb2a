package hokuyo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hokuyo/internal/clocksync"
	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/scip"
	"github.com/banshee-data/hokuyo/internal/sim"
	"github.com/banshee-data/hokuyo/internal/timeutil"
	"github.com/banshee-data/hokuyo/internal/transport"
)

var testEpoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type testRig struct {
	driver *Driver
	sensor *sim.Sensor
	mock   *transport.Mock
	clock  *timeutil.MockClock
}

// newRig returns a connected driver talking to a simulated sensor. The
// sensor counter starts at zero on testEpoch.
func newRig(t *testing.T, mutate ...func(*Options)) *testRig {
	t.Helper()
	clock := timeutil.NewMockClock(testEpoch)
	sensor := sim.NewSensor(clock)
	mock := transport.NewMock(sensor)
	opts := Options{
		Address:     "sim",
		Transport:   mock.Factory(),
		Clock:       clock,
		SyncSamples: 3,
	}
	for _, m := range mutate {
		m(&opts)
	}
	d := NewDriver(opts)
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { d.Close() })
	return &testRig{driver: d, sensor: sensor, mock: mock, clock: clock}
}

// captureLogs redirects the package logger to w until the returned func is
// called.
func captureLogs(w io.Writer) func() {
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		fmt.Fprintf(w, format+"\n", v...)
	})
	return func() { monitoring.SetLogger(prev) }
}

// since returns the requests sent after the first n.
func (r *testRig) since(n int) []string {
	return r.mock.Requests()[n:]
}

func TestNewRunsInitialisation(t *testing.T) {
	clock := timeutil.NewMockClock(testEpoch)
	sensor := sim.NewSensor(clock)
	sensor.Params.Model = "UST-20LX"
	sensor.Params.ScanRPM = 2700
	mock := transport.NewMock(sensor)

	var sessions int
	opts := DefaultOptions()
	opts.Address = "sim"
	opts.Transport = mock.Factory()
	opts.Clock = clock
	opts.SyncSamples = 3
	opts.OnSync = func(s clocksync.Session) { sessions++ }

	d, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []string{"%ST", "TM0", "TM1", "TM1", "TM1", "TM2", "PP", "BM"}, mock.Requests())
	assert.Equal(t, 1, sessions)

	st := d.ClockState()
	assert.True(t, st.Synced)
	assert.Equal(t, testEpoch.UnixMilli(), st.EpochOffsetMs)
	assert.Equal(t, "UST-20LX", d.Config().Model)
	assert.InDelta(t, 45.0, d.Config().ScanFrequencyHz, 1e-9)
	assert.Equal(t, "003", sensor.State())
	assert.Equal(t, "sim", mock.Address)
	assert.Equal(t, DefaultTimeout, mock.Timeout)
}

func TestNewClosesOnFailure(t *testing.T) {
	mock := transport.NewMock(transport.ResponderFunc(func(req string) []byte {
		return sim.Reply(req, "0E")
	}))
	opts := Options{Transport: mock.Factory(), Clock: timeutil.NewMockClock(testEpoch), Activate: true}

	_, err := New(context.Background(), opts)
	var se *scip.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "0E", se.Code)
	assert.Equal(t, "CommandNotDefined", se.Description)
	assert.True(t, mock.Closed)
}

func TestConnectClosesPreviousConnection(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.driver.Connect(context.Background()))
	assert.Equal(t, 2, r.mock.ConnectCalls)
	assert.Equal(t, 1, r.mock.CloseCalls)

	require.NoError(t, r.driver.Close())
	require.NoError(t, r.driver.Close())
	assert.Equal(t, 2, r.mock.CloseCalls)

	_, _, err := r.driver.LaserState(context.Background())
	assert.True(t, scip.IsTransport(err))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestConnectError(t *testing.T) {
	mock := transport.NewMock(nil)
	mock.ConnectError = errors.New("connection refused")
	d := NewDriver(Options{Transport: mock.Factory()})

	err := d.Connect(context.Background())
	var te *scip.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
}

func TestInvalidCommandShapeSendsNothing(t *testing.T) {
	r := newRig(t)
	for _, code := range []string{"", "B", "BMX", "%STX", "ABCD"} {
		_, err := r.driver.request(context.Background(), code, "", "")
		assert.ErrorIs(t, err, scip.ErrInvalidCommandShape, code)
	}
	assert.Empty(t, r.mock.Written())
}

func TestShortWrite(t *testing.T) {
	r := newRig(t)
	r.mock.ShortWrite = true

	err := r.driver.Standby(context.Background())
	assert.True(t, scip.IsTransport(err))
	assert.ErrorIs(t, err, transport.ErrShortWrite)
}

func TestReceiveTimeout(t *testing.T) {
	r := newRig(t)
	r.mock.Responder = nil

	err := r.driver.Standby(context.Background())
	assert.ErrorIs(t, err, scip.ErrTimeout)
	assert.True(t, scip.IsTransport(err))
}

func TestStaleFramesDiscarded(t *testing.T) {
	r := newRig(t)
	r.mock.Push(sim.Reply("MD0000108000000", "99"))
	r.mock.Push(sim.Reply("QT", "00"))

	state, desc, err := r.driver.LaserState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStandby, state)
	assert.Equal(t, "Standby state", desc)
}

func TestStatusChecksumError(t *testing.T) {
	r := newRig(t)
	r.mock.Responder = transport.ResponderFunc(func(req string) []byte {
		return []byte(req + "\n00Q\n\n")
	})

	err := r.driver.Standby(context.Background())
	var ce *scip.ChecksumError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, byte('P'), ce.Computed)
	assert.Equal(t, byte('Q'), ce.Received)
}

func TestCommandsAreSerialised(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.driver.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := r.driver.LaserState(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.driver.release()
	_, _, err = r.driver.LaserState(context.Background())
	assert.NoError(t, err)
}

func TestCommandsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	restore := captureLogs(&buf)
	defer restore()

	r := newRig(t)
	require.NoError(t, r.driver.Standby(context.Background()))
	assert.True(t, strings.Contains(buf.String(), "Switching to standby"), buf.String())
}
