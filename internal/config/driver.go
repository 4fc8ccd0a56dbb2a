package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is where the daemon looks for its configuration when no
// -config flag is given.
const DefaultConfigPath = "config/hokuyo.json"

// Transport kinds accepted by DriverConfig.Transport.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
	TransportReplay = "replay"
	TransportSim    = "sim"
)

// DriverConfig is the JSON configuration of the driver daemon. Every field
// is optional; the Get* methods supply defaults for omitted ones.
type DriverConfig struct {
	// Connection
	Address          *string `json:"address,omitempty"`   // host:port, device path or pcap file
	Transport        *string `json:"transport,omitempty"` // tcp, serial, replay or sim
	SerialBaudRate   *int    `json:"serial_baud_rate,omitempty"`
	ReplaySensorPort *int    `json:"replay_sensor_port,omitempty"`
	BufferSize       *int    `json:"buffer_size,omitempty"`
	Timeout          *string `json:"timeout,omitempty"` // duration string like "5s"

	// Clock synchronization
	TimeTolerance *string `json:"time_tolerance,omitempty"` // duration string like "300ms"
	SyncSamples   *int    `json:"sync_samples,omitempty"`
	SyncInterval  *string `json:"sync_interval,omitempty"`
	RawTimestamps *bool   `json:"raw_timestamps,omitempty"`

	// Startup steps
	TimeSync *bool `json:"time_sync,omitempty"`
	Info     *bool `json:"info,omitempty"`
	Activate *bool `json:"activate,omitempty"`

	// Daemon
	ListenAddress *string `json:"listen_address,omitempty"`
	DBPath        *string `json:"db_path,omitempty"`
	Debug         *bool   `json:"debug,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultDriverConfig returns a config with every field set to its default.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Address:          ptrString("192.168.0.10:10940"),
		Transport:        ptrString(TransportTCP),
		SerialBaudRate:   ptrInt(115200),
		ReplaySensorPort: ptrInt(10940),
		BufferSize:       ptrInt(512),
		Timeout:          ptrString("5s"),
		TimeTolerance:    ptrString("300ms"),
		SyncSamples:      ptrInt(10),
		SyncInterval:     ptrString("100ms"),
		RawTimestamps:    ptrBool(false),
		TimeSync:         ptrBool(true),
		Info:             ptrBool(true),
		Activate:         ptrBool(true),
		ListenAddress:    ptrString("localhost:8090"),
		DBPath:           ptrString("hokuyo.db"),
		Debug:            ptrBool(false),
	}
}

// LoadDriverConfig loads a DriverConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to defaults through the Get*
// methods, so partial configs are safe.
func LoadDriverConfig(path string) (*DriverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DriverConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *DriverConfig) Validate() error {
	if c.Transport != nil {
		switch *c.Transport {
		case TransportTCP, TransportSerial, TransportReplay, TransportSim:
		default:
			return fmt.Errorf("transport must be one of tcp, serial, replay, sim; got %q", *c.Transport)
		}
	}

	for name, v := range map[string]*string{
		"timeout":        c.Timeout,
		"time_tolerance": c.TimeTolerance,
		"sync_interval":  c.SyncInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.BufferSize != nil && *c.BufferSize < 16 {
		return fmt.Errorf("buffer_size must be at least 16, got %d", *c.BufferSize)
	}
	if c.SyncSamples != nil && *c.SyncSamples < 1 {
		return fmt.Errorf("sync_samples must be at least 1, got %d", *c.SyncSamples)
	}
	if c.SerialBaudRate != nil && *c.SerialBaudRate <= 0 {
		return fmt.Errorf("serial_baud_rate must be positive, got %d", *c.SerialBaudRate)
	}
	if c.ReplaySensorPort != nil && (*c.ReplaySensorPort <= 0 || *c.ReplaySensorPort > 65535) {
		return fmt.Errorf("replay_sensor_port out of range: %d", *c.ReplaySensorPort)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetAddress returns the sensor address or the factory default.
func (c *DriverConfig) GetAddress() string {
	if c.Address == nil || *c.Address == "" {
		return "192.168.0.10:10940"
	}
	return *c.Address
}

// GetTransport returns the transport kind or the default.
func (c *DriverConfig) GetTransport() string {
	if c.Transport == nil || *c.Transport == "" {
		return TransportTCP
	}
	return *c.Transport
}

// GetSerialBaudRate returns the serial_baud_rate value or the default.
func (c *DriverConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 115200
	}
	return *c.SerialBaudRate
}

// GetReplaySensorPort returns the replay_sensor_port value or the default.
func (c *DriverConfig) GetReplaySensorPort() int {
	if c.ReplaySensorPort == nil {
		return 10940
	}
	return *c.ReplaySensorPort
}

// GetBufferSize returns the buffer_size value or the default.
func (c *DriverConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 512
	}
	return *c.BufferSize
}

// GetTimeout parses and returns the Timeout as a time.Duration.
func (c *DriverConfig) GetTimeout() time.Duration {
	return durationOr(c.Timeout, 5*time.Second)
}

// GetTimeTolerance parses and returns the TimeTolerance as a time.Duration.
func (c *DriverConfig) GetTimeTolerance() time.Duration {
	return durationOr(c.TimeTolerance, 300*time.Millisecond)
}

// GetSyncSamples returns the sync_samples value or the default.
func (c *DriverConfig) GetSyncSamples() int {
	if c.SyncSamples == nil {
		return 10
	}
	return *c.SyncSamples
}

// GetSyncInterval parses and returns the SyncInterval as a time.Duration.
func (c *DriverConfig) GetSyncInterval() time.Duration {
	return durationOr(c.SyncInterval, 100*time.Millisecond)
}

// GetRawTimestamps returns the raw_timestamps value or the default.
func (c *DriverConfig) GetRawTimestamps() bool {
	if c.RawTimestamps == nil {
		return false
	}
	return *c.RawTimestamps
}

// GetTimeSync returns the time_sync value or the default.
func (c *DriverConfig) GetTimeSync() bool {
	if c.TimeSync == nil {
		return true
	}
	return *c.TimeSync
}

// GetInfo returns the info value or the default.
func (c *DriverConfig) GetInfo() bool {
	if c.Info == nil {
		return true
	}
	return *c.Info
}

// GetActivate returns the activate value or the default.
func (c *DriverConfig) GetActivate() bool {
	if c.Activate == nil {
		return true
	}
	return *c.Activate
}

// GetListenAddress returns the listen_address value or the default.
func (c *DriverConfig) GetListenAddress() string {
	if c.ListenAddress == nil || *c.ListenAddress == "" {
		return "localhost:8090"
	}
	return *c.ListenAddress
}

// GetDBPath returns the db_path value or the default. An explicit empty
// string disables the sync journal.
func (c *DriverConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "hokuyo.db"
	}
	return *c.DBPath
}

// GetDebug returns the debug value or the default.
func (c *DriverConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}
