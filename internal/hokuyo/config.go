package hokuyo

import (
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/hokuyo/internal/scip"
)

// SensorConfig holds the sensor parameters reported by PP.
type SensorConfig struct {
	Model string `json:"model"`
	// MinDistance and MaxDistance bound valid measurements, in millimetres.
	MinDistance uint32 `json:"min_distance_mm"`
	MaxDistance uint32 `json:"max_distance_mm"`
	// AngularResolution is the number of steps in a full revolution.
	AngularResolution int     `json:"angular_resolution"`
	MinStep           int     `json:"min_step"`
	MaxStep           int     `json:"max_step"`
	ForwardStep       int     `json:"forward_step"`
	ScanFrequencyHz   float64 `json:"scan_frequency_hz"`
}

// DefaultSensorConfig returns the parameters of a UST-10LX.
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		Model:             "UST-10LX",
		MinDistance:       20,
		MaxDistance:       30000,
		AngularResolution: 1440,
		MinStep:           0,
		MaxStep:           1080,
		ForwardStep:       540,
		ScanFrequencyHz:   40,
	}
}

// Validate checks internal consistency.
func (c SensorConfig) Validate() error {
	if c.AngularResolution <= 0 {
		return fmt.Errorf("angular resolution must be positive, got %d", c.AngularResolution)
	}
	if c.MinStep < 0 || c.MinStep > c.MaxStep {
		return fmt.Errorf("invalid step range %d..%d", c.MinStep, c.MaxStep)
	}
	if c.ForwardStep < c.MinStep || c.ForwardStep > c.MaxStep {
		return fmt.Errorf("forward step %d outside step range %d..%d", c.ForwardStep, c.MinStep, c.MaxStep)
	}
	if c.MinDistance > c.MaxDistance {
		return fmt.Errorf("min distance %d exceeds max distance %d", c.MinDistance, c.MaxDistance)
	}
	return nil
}

// Angle returns the bearing of step in radians, zero straight ahead and
// positive counter-clockwise.
func (c SensorConfig) Angle(step int) float64 {
	return 2 * math.Pi * float64(step-c.ForwardStep) / float64(c.AngularResolution)
}

// Angles returns the bearing of every reported sample for a start..end
// request. Grouped samples are placed at the first step of their group.
func (c SensorConfig) Angles(start, end, grouping int) []float64 {
	if grouping < 1 {
		grouping = 1
	}
	if end < start {
		return nil
	}
	angles := make([]float64, 0, (end-start)/grouping+1)
	for step := start; step <= end; step += grouping {
		angles = append(angles, c.Angle(step))
	}
	return angles
}

// ConfigFromParameters builds a SensorConfig from a PP key/value map,
// keeping defaults for absent keys. SCAN is in revolutions per minute.
func ConfigFromParameters(params map[string]string) (SensorConfig, error) {
	cfg := DefaultSensorConfig()
	if v, ok := params["MODL"]; ok {
		cfg.Model = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"ARES", &cfg.AngularResolution},
		{"AMIN", &cfg.MinStep},
		{"AMAX", &cfg.MaxStep},
		{"AFRT", &cfg.ForwardStep},
	}
	for _, f := range ints {
		v, ok := params[f.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return SensorConfig{}, &scip.ProtocolError{Kind: scip.MalformedReply, Detail: fmt.Sprintf("parameter %s=%q is not an integer", f.key, v)}
		}
		*f.dst = n
	}
	for key, dst := range map[string]*uint32{"DMIN": &cfg.MinDistance, "DMAX": &cfg.MaxDistance} {
		v, ok := params[key]
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return SensorConfig{}, &scip.ProtocolError{Kind: scip.MalformedReply, Detail: fmt.Sprintf("parameter %s=%q is not a distance", key, v)}
		}
		*dst = uint32(n)
	}
	if v, ok := params["SCAN"]; ok {
		rpm, err := strconv.Atoi(v)
		if err != nil {
			return SensorConfig{}, &scip.ProtocolError{Kind: scip.MalformedReply, Detail: fmt.Sprintf("parameter SCAN=%q is not an integer", v)}
		}
		cfg.ScanFrequencyHz = float64(rpm) / 60
	}
	return cfg, cfg.Validate()
}
