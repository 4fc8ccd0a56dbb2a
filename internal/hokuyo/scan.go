package hokuyo

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/hokuyo/internal/scip"
)

// ErrInvalidRequest is returned, before anything is sent, for scan requests
// the sensor would refuse.
var ErrInvalidRequest = errors.New("hokuyo: invalid scan request")

// Encoding selects the packed width of distance values.
type Encoding int

const (
	// ThreeChar carries up to 262143 mm and is required for intensities.
	ThreeChar Encoding = iota
	// TwoChar carries up to 4095 mm in two thirds of the bandwidth.
	TwoChar
)

func (e Encoding) width() int {
	if e == TwoChar {
		return scip.TwoCharEncoding
	}
	return scip.ThreeCharEncoding
}

// ScanRequest describes the steps to measure.
type ScanRequest struct {
	Intensity bool
	// Start and End default to the configured step range.
	Start *int
	End   *int
	// Grouping merges this many adjacent steps into one sample; 0 means 1.
	Grouping int
	Encoding Encoding
}

// Sample is one measurement.
type Sample struct {
	Angle     float64 `json:"angle"`
	Distance  uint32  `json:"distance"`
	Intensity uint32  `json:"intensity,omitempty"`
}

// Scan is the decoded payload of one measurement reply.
type Scan struct {
	Samples      []Sample `json:"samples"`
	HasIntensity bool     `json:"has_intensity"`
}

// scanPlan is a validated request.
type scanPlan struct {
	command   string
	start     int
	end       int
	grouping  int
	width     int
	intensity bool
}

func (p scanPlan) params() string {
	return fmt.Sprintf("%04d%04d%02d", p.start, p.end, p.grouping)
}

// plan resolves defaults against cfg. prefix is "G" for single scans and "M"
// for continuous ones.
func (r ScanRequest) plan(cfg SensorConfig, prefix string) (scanPlan, error) {
	p := scanPlan{
		start:     cfg.MinStep,
		end:       cfg.MaxStep,
		grouping:  r.Grouping,
		width:     r.Encoding.width(),
		intensity: r.Intensity,
	}
	if r.Start != nil {
		p.start = *r.Start
	}
	if r.End != nil {
		p.end = *r.End
	}
	switch {
	case p.start < cfg.MinStep || p.end > cfg.MaxStep:
		return p, fmt.Errorf("%w: steps %d..%d outside %d..%d", ErrInvalidRequest, p.start, p.end, cfg.MinStep, cfg.MaxStep)
	case p.start > p.end:
		return p, fmt.Errorf("%w: start step %d after end step %d", ErrInvalidRequest, p.start, p.end)
	case p.grouping < 0 || p.grouping > 99:
		return p, fmt.Errorf("%w: grouping %d not in 0..99", ErrInvalidRequest, p.grouping)
	case r.Intensity && r.Encoding == TwoChar:
		return p, fmt.Errorf("%w: intensity requires three character encoding", ErrInvalidRequest)
	}
	switch {
	case r.Intensity:
		p.command = prefix + "E"
	case r.Encoding == TwoChar:
		p.command = prefix + "S"
	default:
		p.command = prefix + "D"
	}
	return p, nil
}

// decode turns payload blocks into samples.
func (p scanPlan) decode(cfg SensorConfig, lines []string) (Scan, error) {
	values, err := scip.DecodeBlocks(lines, p.width)
	if err != nil {
		return Scan{}, err
	}
	per := 1
	if p.intensity {
		per = 2
	}
	angles := cfg.Angles(p.start, p.end, p.grouping)
	if len(values) != per*len(angles) {
		return Scan{}, &scip.ProtocolError{Kind: scip.MalformedPayload,
			Detail: fmt.Sprintf("%d values for %d steps", len(values), len(angles))}
	}
	scan := Scan{Samples: make([]Sample, len(angles)), HasIntensity: p.intensity}
	for i, a := range angles {
		s := Sample{Angle: a, Distance: values[i*per]}
		if p.intensity {
			s.Intensity = values[i*per+1]
		}
		scan.Samples[i] = s
	}
	return scan, nil
}

// RequestScan takes a single measurement. The sensor must be activated.
// The timestamp is in Unix milliseconds unless raw timestamps were
// requested.
func (d *Driver) RequestScan(ctx context.Context, req ScanRequest) (int64, Scan, error) {
	cfg := d.Config()
	p, err := req.plan(cfg, "G")
	if err != nil {
		return 0, Scan{}, err
	}
	if err := d.acquire(ctx); err != nil {
		return 0, Scan{}, err
	}
	defer d.release()

	reply, err := d.request(ctx, p.command, p.params(), "")
	if err != nil {
		return 0, Scan{}, err
	}
	if reply.Status != scip.StatusOK {
		return 0, Scan{}, scip.NewStatusError(p.command, reply.Status, nil)
	}
	if len(reply.Payload) == 0 {
		return 0, Scan{}, &scip.ProtocolError{Kind: scip.MalformedReply, Detail: p.command + " reply has no timestamp"}
	}
	// A corrupt payload must not reach the clock and trigger a resync.
	scan, err := p.decode(cfg, reply.Payload[1:])
	if err != nil {
		return 0, Scan{}, err
	}
	ts, err := d.timestamp(ctx, reply.Payload[0], false)
	if err != nil {
		return 0, Scan{}, err
	}
	return ts, scan, nil
}

// Filter drops samples outside distance and intensity bounds. Nil distance
// bounds mean the sensor's limits; nil intensity bounds are not applied.
type Filter struct {
	DistanceMin  *uint32
	DistanceMax  *uint32
	IntensityMin *uint32
	IntensityMax *uint32
}

// FilterScan applies f to scan, taking default distance bounds from cfg.
// Intensity bounds are ignored for scans without intensities.
func FilterScan(scan Scan, f Filter, cfg SensorConfig) Scan {
	dmin, dmax := cfg.MinDistance, cfg.MaxDistance
	if f.DistanceMin != nil {
		dmin = *f.DistanceMin
	}
	if f.DistanceMax != nil {
		dmax = *f.DistanceMax
	}
	out := Scan{Samples: make([]Sample, 0, len(scan.Samples)), HasIntensity: scan.HasIntensity}
	for _, s := range scan.Samples {
		if s.Distance < dmin || s.Distance > dmax {
			continue
		}
		if scan.HasIntensity {
			if f.IntensityMin != nil && s.Intensity < *f.IntensityMin {
				continue
			}
			if f.IntensityMax != nil && s.Intensity > *f.IntensityMax {
				continue
			}
		}
		out.Samples = append(out.Samples, s)
	}
	return out
}

// FilteredScan is RequestScan followed by FilterScan.
func (d *Driver) FilteredScan(ctx context.Context, req ScanRequest, f Filter) (int64, Scan, error) {
	ts, scan, err := d.RequestScan(ctx, req)
	if err != nil {
		return 0, Scan{}, err
	}
	return ts, FilterScan(scan, f, d.Config()), nil
}
