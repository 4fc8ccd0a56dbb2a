package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/hokuyo/internal/clocksync"
	"github.com/banshee-data/hokuyo/internal/config"
	"github.com/banshee-data/hokuyo/internal/hokuyo"
	"github.com/banshee-data/hokuyo/internal/syncdb"
)

func TestDriverOptions(t *testing.T) {
	cfg := config.DefaultDriverConfig()
	samples := 4
	tolerance := "150ms"
	raw := true
	cfg.SyncSamples = &samples
	cfg.TimeTolerance = &tolerance
	cfg.RawTimestamps = &raw

	opts := driverOptions(cfg, nil)
	type summary struct {
		Address       string
		BufferSize    int
		Timeout       time.Duration
		TimeTolerance time.Duration
		SyncSamples   int
		SyncInterval  time.Duration
		RawTimestamps bool
		TimeSync      bool
		Info          bool
		Activate      bool
	}
	got := summary{
		opts.Address, opts.BufferSize, opts.Timeout, opts.TimeTolerance, opts.SyncSamples,
		opts.SyncInterval, opts.RawTimestamps, opts.TimeSync, opts.Info, opts.Activate,
	}
	want := summary{
		Address:       "192.168.0.10:10940",
		BufferSize:    512,
		Timeout:       5 * time.Second,
		TimeTolerance: 150 * time.Millisecond,
		SyncSamples:   4,
		SyncInterval:  100 * time.Millisecond,
		RawTimestamps: true,
		TimeSync:      true,
		Info:          true,
		Activate:      true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("driverOptions mismatch (-want +got):\n%s", diff)
	}
}

func TestTransportFactory(t *testing.T) {
	for _, kind := range []string{config.TransportTCP, config.TransportSerial, config.TransportReplay, config.TransportSim} {
		cfg := config.DefaultDriverConfig()
		cfg.Transport = &kind
		f, err := transportFactory(cfg)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if f == nil || f() == nil {
			t.Fatalf("%s: factory returned nil", kind)
		}
	}

	bogus := "carrier-pigeon"
	cfg := config.DefaultDriverConfig()
	cfg.Transport = &bogus
	if _, err := transportFactory(cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

// TestSimulatedDaemon runs the startup path against the built-in simulator
// and checks the journal receives the sync session and identity tables.
func TestSimulatedDaemon(t *testing.T) {
	journal, err := syncdb.Open(filepath.Join(t.TempDir(), "hokuyo.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer journal.Close()

	kind := config.TransportSim
	samples := 2
	interval := "1ms"
	cfg := config.DefaultDriverConfig()
	cfg.Transport = &kind
	cfg.SyncSamples = &samples
	cfg.SyncInterval = &interval

	factory, err := transportFactory(cfg)
	if err != nil {
		t.Fatal(err)
	}
	opts := driverOptions(cfg, factory)
	opts.OnSync = func(s clocksync.Session) {
		if _, err := journal.RecordSession(opts.Address, s); err != nil {
			t.Errorf("RecordSession: %v", err)
		}
	}

	ctx := context.Background()
	d, err := hokuyo.New(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	recordInfo(ctx, d, journal)
	if err := logScans(ctx, d, 2); err != nil {
		t.Fatalf("logScans: %v", err)
	}

	sessions, err := journal.Sessions(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Samples != 2 {
		t.Fatalf("sessions = %+v, want one session of 2 samples", sessions)
	}
	version, err := journal.LatestInfo(opts.Address, string(hokuyo.InfoVersion))
	if err != nil {
		t.Fatal(err)
	}
	if version.Values["SERI"] == "" {
		t.Errorf("version snapshot has no serial: %+v", version.Values)
	}
}
