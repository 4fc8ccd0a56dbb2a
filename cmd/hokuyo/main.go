// Command hokuyo connects to a SCIP 2.x laser rangefinder, keeps its clock
// synchronized and serves scans and device state over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/hokuyo/internal/api"
	"github.com/banshee-data/hokuyo/internal/clocksync"
	"github.com/banshee-data/hokuyo/internal/config"
	"github.com/banshee-data/hokuyo/internal/hokuyo"
	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/sim"
	"github.com/banshee-data/hokuyo/internal/syncdb"
	"github.com/banshee-data/hokuyo/internal/transport"
)

var (
	configFile = flag.String("config", "", "Path to JSON config file (default "+config.DefaultConfigPath+" if present)")
	addr       = flag.String("addr", "", "Sensor address: host:port, serial device or pcap file (overrides config)")
	transportF = flag.String("transport", "", "Transport: tcp, serial, replay or sim (overrides config)")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath     = flag.String("db", "", "Sync journal database path (overrides config; \"-\" disables)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	devMode    = flag.Bool("dev", false, "Run against the built-in simulated sensor")
	scans      = flag.Int("scans", 0, "Log this many streamed scans (1-99) after startup")
)

func loadConfig() (*config.DriverConfig, error) {
	path := *configFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.DefaultDriverConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadDriverConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded configuration from %s", path)
	return cfg, nil
}

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(cfg *config.DriverConfig) {
	if *addr != "" {
		cfg.Address = addr
	}
	if *transportF != "" {
		cfg.Transport = transportF
	}
	if *devMode {
		kind := config.TransportSim
		cfg.Transport = &kind
	}
	if *listen != "" {
		cfg.ListenAddress = listen
	}
	switch *dbPath {
	case "":
	case "-":
		empty := ""
		cfg.DBPath = &empty
	default:
		cfg.DBPath = dbPath
	}
	if *debug {
		cfg.Debug = debug
	}
}

func transportFactory(cfg *config.DriverConfig) (transport.Factory, error) {
	switch cfg.GetTransport() {
	case config.TransportTCP:
		return transport.NewTCP, nil
	case config.TransportSerial:
		return transport.NewSerial(transport.PortOptions{BaudRate: cfg.GetSerialBaudRate()}), nil
	case config.TransportReplay:
		return transport.NewReplay(cfg.GetReplaySensorPort()), nil
	case config.TransportSim:
		return transport.NewMock(sim.NewSensor(nil)).Factory(), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.GetTransport())
}

func driverOptions(cfg *config.DriverConfig, factory transport.Factory) hokuyo.Options {
	opts := hokuyo.DefaultOptions()
	opts.Address = cfg.GetAddress()
	opts.Transport = factory
	opts.BufferSize = cfg.GetBufferSize()
	opts.Timeout = cfg.GetTimeout()
	opts.TimeTolerance = cfg.GetTimeTolerance()
	opts.SyncSamples = cfg.GetSyncSamples()
	opts.SyncInterval = cfg.GetSyncInterval()
	opts.RawTimestamps = cfg.GetRawTimestamps()
	opts.TimeSync = cfg.GetTimeSync()
	opts.Info = cfg.GetInfo()
	opts.Activate = cfg.GetActivate()
	return opts
}

// recordInfo journals the identity tables of a freshly initialised sensor.
func recordInfo(ctx context.Context, d *hokuyo.Driver, journal *syncdb.DB) {
	for _, kind := range []hokuyo.InfoKind{hokuyo.InfoVersion, hokuyo.InfoParameters} {
		values, err := d.Info(ctx, kind)
		if err != nil {
			log.Printf("failed to query %s: %v", kind, err)
			continue
		}
		if _, err := journal.RecordInfo(d.Address(), string(kind), values, time.Now()); err != nil {
			log.Printf("failed to record %s: %v", kind, err)
		}
	}
}

// logScans streams n scans and logs a summary of each.
func logScans(ctx context.Context, d *hokuyo.Driver, n int) error {
	s, err := d.OpenStream(ctx, hokuyo.StreamRequest{Count: n})
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	for frame, err := range s.All(ctx) {
		if err != nil {
			return err
		}
		log.Printf("scan ts=%d samples=%d remaining=%d", frame.Timestamp, len(frame.Scan.Samples), frame.Remaining)
	}
	return nil
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	monitoring.SetDebug(cfg.GetDebug())

	if *scans < 0 || *scans > 99 {
		log.Fatalf("-scans must be between 0 and 99, got %d", *scans)
	}

	factory, err := transportFactory(cfg)
	if err != nil {
		log.Fatal(err)
	}

	var journal *syncdb.DB
	if path := cfg.GetDBPath(); path != "" {
		journal, err = syncdb.Open(path)
		if err != nil {
			log.Fatalf("Failed to open sync journal: %v", err)
		}
		defer journal.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := driverOptions(cfg, factory)
	if journal != nil {
		address := opts.Address
		opts.OnSync = func(s clocksync.Session) {
			if _, err := journal.RecordSession(address, s); err != nil {
				log.Printf("failed to record sync session: %v", err)
			}
		}
	}

	d, err := hokuyo.New(ctx, opts)
	if err != nil {
		log.Fatalf("Failed to initialise sensor at %s: %v", opts.Address, err)
	}
	defer d.Close()
	log.Printf("Connected to %s (%s, steps %d-%d)", d.Address(), d.Config().Model, d.Config().MinStep, d.Config().MaxStep)

	if journal != nil {
		recordInfo(ctx, d, journal)
	}
	if *scans > 0 {
		if err := logScans(ctx, d, *scans); err != nil {
			log.Printf("scan stream ended: %v", err)
		}
	}

	var sessions api.SessionStore
	if journal != nil {
		sessions = journal
	}
	srv := api.NewServer(d, sessions)
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)
	if journal != nil {
		journal.AttachAdminRoutes(mux)
	}

	server := &http.Server{
		Addr:    cfg.GetListenAddress(),
		Handler: api.LoggingMiddleware(mux),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shut down HTTP server: %v", err)
		}
	}()

	log.Printf("Serving API on http://%s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTP server failed: %v", err)
		stop()
	}
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
