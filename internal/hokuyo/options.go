package hokuyo

import (
	"time"

	"github.com/banshee-data/hokuyo/internal/clocksync"
	"github.com/banshee-data/hokuyo/internal/scip"
	"github.com/banshee-data/hokuyo/internal/timeutil"
	"github.com/banshee-data/hokuyo/internal/transport"
)

// DefaultTimeout bounds connect and every receive.
const DefaultTimeout = 5 * time.Second

// Options configures a Driver.
type Options struct {
	// Address is host:port for TCP sensors or a device path for serial ones.
	Address string
	// Transport builds the connection; nil means TCP.
	Transport transport.Factory
	// BufferSize is the receive chunk size in bytes.
	BufferSize int
	Timeout    time.Duration

	TimeTolerance time.Duration
	SyncSamples   int
	SyncInterval  time.Duration

	// TimeSync, Info and Activate select the steps New runs after connecting.
	TimeSync bool
	Info     bool
	Activate bool

	// RawTimestamps reports sensor ticks instead of Unix milliseconds.
	RawTimestamps bool

	Clock  timeutil.Clock
	OnSync func(clocksync.Session)
}

// DefaultOptions returns the options of a fully initialised TCP driver.
func DefaultOptions() Options {
	return Options{
		Address:       transport.DefaultAddress,
		Transport:     transport.NewTCP,
		BufferSize:    scip.DefaultBufferSize,
		Timeout:       DefaultTimeout,
		TimeTolerance: clocksync.DefaultTolerance,
		SyncSamples:   clocksync.DefaultSamples,
		SyncInterval:  clocksync.DefaultInterval,
		TimeSync:      true,
		Info:          true,
		Activate:      true,
		Clock:         timeutil.RealClock{},
	}
}

func (o Options) withDefaults() Options {
	if o.Address == "" {
		o.Address = transport.DefaultAddress
	}
	if o.Transport == nil {
		o.Transport = transport.NewTCP
	}
	if o.BufferSize <= 0 {
		o.BufferSize = scip.DefaultBufferSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.TimeTolerance <= 0 {
		o.TimeTolerance = clocksync.DefaultTolerance
	}
	if o.SyncSamples <= 0 {
		o.SyncSamples = clocksync.DefaultSamples
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = clocksync.DefaultInterval
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}
