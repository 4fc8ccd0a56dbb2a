package hokuyo

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/scip"
)

// InfoKind selects one of the information commands.
type InfoKind string

const (
	InfoState      InfoKind = "II"
	InfoVersion    InfoKind = "VV"
	InfoParameters InfoKind = "PP"
)

// ParseInfoKind accepts the command code or the names state, version and
// parameters.
func ParseInfoKind(s string) (InfoKind, error) {
	switch strings.ToLower(s) {
	case "ii", "state":
		return InfoState, nil
	case "vv", "version":
		return InfoVersion, nil
	case "pp", "parameters", "params":
		return InfoParameters, nil
	}
	return "", fmt.Errorf("unknown info kind %q", s)
}

// SensorState returns the II status table. Valid in any state.
func (d *Driver) SensorState(ctx context.Context) (map[string]string, error) {
	return d.Info(ctx, InfoState)
}

// Version returns the VV manufacturing information. Valid in any state.
func (d *Driver) Version(ctx context.Context) (map[string]string, error) {
	return d.Info(ctx, InfoVersion)
}

// Parameters returns the PP internal parameters. Not valid during time
// sync.
func (d *Driver) Parameters(ctx context.Context) (map[string]string, error) {
	return d.Info(ctx, InfoParameters)
}

// Info runs one information command.
func (d *Driver) Info(ctx context.Context, kind InfoKind) (map[string]string, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()
	return d.info(ctx, kind)
}

func (d *Driver) info(ctx context.Context, kind InfoKind) (map[string]string, error) {
	reply, err := d.request(ctx, string(kind), "", "")
	if err != nil {
		return nil, err
	}
	if reply.Status != scip.StatusOK {
		return nil, scip.NewStatusError(string(kind), reply.Status, nil)
	}
	info := make(map[string]string, len(reply.Payload))
	for _, line := range reply.Payload {
		if line == "" {
			continue
		}
		key, value, err := parseInfoLine(line)
		if err != nil {
			return nil, err
		}
		info[key] = value
	}
	return info, nil
}

// parseInfoLine splits "KEY:value;c". The checksum covers "KEY:value".
func parseInfoLine(line string) (string, string, error) {
	if len(line) < 3 || line[len(line)-2] != ';' {
		return "", "", &scip.ProtocolError{Kind: scip.MalformedReply, Detail: fmt.Sprintf("info line %q lacks ;checksum", line)}
	}
	body := line[:len(line)-2]
	received := line[len(line)-1]
	if computed := scip.Checksum([]byte(body)); computed != received {
		return "", "", &scip.ChecksumError{Line: body, Computed: computed, Received: received}
	}
	key, value, ok := strings.Cut(body, ":")
	if !ok {
		return "", "", &scip.ProtocolError{Kind: scip.MalformedReply, Detail: fmt.Sprintf("info line %q lacks key separator", line)}
	}
	return key, value, nil
}

// UpdateInfo refreshes the sensor parameters from PP. The previous
// parameters stay in effect if the reply is invalid.
func (d *Driver) UpdateInfo(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	monitoring.Logf("Updating sensor information")
	params, err := d.info(ctx, InfoParameters)
	if err != nil {
		return err
	}
	cfg, err := ConfigFromParameters(params)
	if err != nil {
		return fmt.Errorf("sensor parameters: %w", err)
	}
	d.config.Store(&cfg)
	monitoring.Logf("Sensor %s: steps %d..%d (front %d of %d), range %d..%d mm, %.1f Hz",
		cfg.Model, cfg.MinStep, cfg.MaxStep, cfg.ForwardStep, cfg.AngularResolution,
		cfg.MinDistance, cfg.MaxDistance, cfg.ScanFrequencyHz)
	return nil
}
