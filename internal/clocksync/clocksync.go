// Package clocksync maps the sensor's 24-bit millisecond counter onto host
// wall-clock time.
//
// The sensor reports time as raw ticks since its counter was last zero. An
// offset estimate (the host time at which the counter read zero) turns raw
// ticks into Unix milliseconds; the overflow count extends the counter past
// its 2^24 ms (about 4.66 hour) period. Every decoded timestamp is checked
// against host time: drift within tolerance is accepted, drift of one
// counter period is taken as a wrap, and anything else triggers a fresh
// offset estimate.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/timeutil"
)

// OverflowPeriodMs is the wrap period of the sensor counter.
const OverflowPeriodMs int64 = 1 << 24

// Default tolerance and sampling schedule.
const (
	DefaultTolerance      = 300 * time.Millisecond
	DefaultSamples        = 10
	DefaultInterval       = 100 * time.Millisecond
	DefaultMaxCorrections = 2
)

var (
	// ErrDriftUnresolved is returned when a timestamp is still out of
	// tolerance after the allowed corrections.
	ErrDriftUnresolved = errors.New("clocksync: timestamp drift unresolved after correction")

	// ErrResyncRequired is returned by DecodeNoResync when only a fresh offset
	// estimate could bring the timestamp into tolerance.
	ErrResyncRequired = errors.New("clocksync: resynchronization required")
)

// Sampler reads the sensor's raw time counter.
type Sampler interface {
	SensorTime(ctx context.Context) (uint32, error)
}

// SessionSampler is a Sampler that must enter a dedicated mode before
// sampling and leave it afterwards.
type SessionSampler interface {
	Sampler
	BeginSync(ctx context.Context) error
	EndSync(ctx context.Context) error
}

// State is the current host/sensor time mapping.
type State struct {
	EpochOffsetMs int64 `json:"epoch_offset_ms"`
	OverflowCount int   `json:"overflow_count"`
	Synced        bool  `json:"synced"`
}

// Session describes one completed offset estimate.
type Session struct {
	Started       time.Time `json:"started"`
	Reason        string    `json:"reason"`
	OffsetsMs     []int64   `json:"offsets_ms"`
	EpochOffsetMs int64     `json:"epoch_offset_ms"`
	StdDevMs      float64   `json:"stddev_ms"`
}

// Synchronizer owns the clock state. Exported fields are read at call time
// and must not be changed concurrently with Estimate or Decode.
type Synchronizer struct {
	Tolerance      time.Duration
	Samples        int
	Interval       time.Duration
	MaxCorrections int
	Clock          timeutil.Clock

	// OnSync, if set, receives every completed session.
	OnSync func(Session)

	mu    sync.Mutex
	state State
	last  *Session
}

// New returns a Synchronizer with default sampling parameters.
func New(clock timeutil.Clock, tolerance time.Duration) *Synchronizer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Synchronizer{
		Tolerance:      tolerance,
		Samples:        DefaultSamples,
		Interval:       DefaultInterval,
		MaxCorrections: DefaultMaxCorrections,
		Clock:          clock,
	}
}

// State returns a copy of the current mapping.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState replaces the mapping, for restoring a known offset.
func (s *Synchronizer) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// LastSession returns the most recent completed estimate.
func (s *Synchronizer) LastSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Session{}, false
	}
	return *s.last, true
}

// Estimate samples the sensor counter and sets the epoch offset to the mean
// of host-minus-sensor differences. The overflow count is reset.
func (s *Synchronizer) Estimate(ctx context.Context, sampler Sampler) error {
	return s.estimate(ctx, sampler, "requested")
}

func (s *Synchronizer) estimate(ctx context.Context, sampler Sampler, reason string) (err error) {
	n := s.Samples
	if n <= 0 {
		n = DefaultSamples
	}
	monitoring.Logf("Starting time synchronization (%s, %d samples)", reason, n)

	if ss, ok := sampler.(SessionSampler); ok {
		if err := ss.BeginSync(ctx); err != nil {
			return fmt.Errorf("begin time sync: %w", err)
		}
		defer func() {
			if endErr := ss.EndSync(ctx); endErr != nil && err == nil {
				err = fmt.Errorf("end time sync: %w", endErr)
			}
		}()
	}

	started := s.Clock.Now()
	offsets := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := sampler.SensorTime(ctx)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		offsets = append(offsets, math.Round(hostMillis(s.Clock.Now())-float64(raw)))
		if i < n-1 {
			s.Clock.Sleep(s.Interval)
		}
	}

	session := Session{
		Started:       started,
		Reason:        reason,
		OffsetsMs:     make([]int64, len(offsets)),
		EpochOffsetMs: int64(math.Round(stat.Mean(offsets, nil))),
	}
	if len(offsets) > 1 {
		session.StdDevMs = stat.StdDev(offsets, nil)
	}
	for i, o := range offsets {
		session.OffsetsMs[i] = int64(o)
	}

	s.mu.Lock()
	s.state = State{EpochOffsetMs: session.EpochOffsetMs, Synced: true}
	s.last = &session
	onSync := s.OnSync
	s.mu.Unlock()

	monitoring.Logf("Time sync done, t0: %d ms (stddev %.1f ms)", session.EpochOffsetMs, session.StdDevMs)
	if onSync != nil {
		onSync(session)
	}
	return nil
}

// Decode converts raw sensor ticks into Unix milliseconds, correcting the
// mapping when the result drifts from host time by more than the tolerance.
// Each correction is either one overflow bump or one full resync, never
// both, and at most MaxCorrections are applied per call.
func (s *Synchronizer) Decode(ctx context.Context, sampler Sampler, raw uint32) (int64, error) {
	return s.decode(ctx, sampler, raw, true)
}

// DecodeNoResync is Decode without the resync path, for use while the
// sensor cannot leave its current mode (continuous scanning). Overflow bumps
// still apply; drift that needs a resync yields ErrResyncRequired.
func (s *Synchronizer) DecodeNoResync(raw uint32) (int64, error) {
	return s.decode(context.Background(), nil, raw, false)
}

func (s *Synchronizer) decode(ctx context.Context, sampler Sampler, raw uint32, allowResync bool) (int64, error) {
	tol := s.Tolerance.Milliseconds()
	maxCorr := s.MaxCorrections
	if maxCorr <= 0 {
		maxCorr = DefaultMaxCorrections
	}

	for attempt := 0; ; attempt++ {
		st := s.State()
		t := st.EpochOffsetMs + int64(raw) + int64(st.OverflowCount)*OverflowPeriodMs
		drift := timeutil.UnixMillis(s.Clock) - t
		monitoring.Debugf("sensor timestamp %d -> %d (t0 %d, overflows %d, drift %d ms)",
			raw, t, st.EpochOffsetMs, st.OverflowCount, drift)
		if abs(drift) <= tol {
			return t, nil
		}
		if attempt >= maxCorr {
			return 0, fmt.Errorf("%w: drift %d ms exceeds tolerance %d ms", ErrDriftUnresolved, drift, tol)
		}

		if st.Synced && abs(drift-OverflowPeriodMs) <= tol {
			monitoring.Logf("Timestamp overflow detected, drift %d ms", drift)
			s.mu.Lock()
			s.state.OverflowCount++
			s.mu.Unlock()
			continue
		}

		if !allowResync || sampler == nil {
			return 0, fmt.Errorf("%w: drift %d ms", ErrResyncRequired, drift)
		}
		monitoring.Logf("Time difference %d ms is too big. Resyncing...", drift)
		if err := s.estimate(ctx, sampler, "drift"); err != nil {
			return 0, fmt.Errorf("resync: %w", err)
		}
	}
}

// hostMillis returns t in fractional Unix milliseconds.
func hostMillis(t time.Time) float64 {
	return float64(t.UnixMilli()) + float64(t.Nanosecond()%int(time.Millisecond))/float64(time.Millisecond)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
