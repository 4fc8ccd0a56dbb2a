// Package sim is a software stand-in for a SCIP 2.x rangefinder. It answers
// request lines the way a UST-10LX does and is used by dev mode and tests
// through transport.Mock.
package sim

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/hokuyo/internal/scip"
	"github.com/banshee-data/hokuyo/internal/timeutil"
)

// Laser state codes as reported by %ST.
const (
	stateStandby  = "000"
	stateTimeSync = "002"
	stateSingle   = "003"
	stateMulti    = "004"
	stateSleep    = "005"
)

// Params are the values reported by PP and VV.
type Params struct {
	Model       string
	Serial      string
	Firmware    string
	MinDistance int
	MaxDistance int
	Resolution  int
	MinStep     int
	MaxStep     int
	FrontStep   int
	ScanRPM     int
}

// DefaultParams describes a UST-10LX.
func DefaultParams() Params {
	return Params{
		Model:       "UST-10LX",
		Serial:      "H1234567",
		Firmware:    "3.3.01",
		MinDistance: 20,
		MaxDistance: 30000,
		Resolution:  1440,
		MinStep:     0,
		MaxStep:     1080,
		FrontStep:   540,
		ScanRPM:     2400,
	}
}

// Sensor simulates one device.
type Sensor struct {
	mu sync.Mutex

	Clock  timeutil.Clock
	Params Params

	// BootTime is the host time at which the sensor counter read zero.
	BootTime time.Time

	// Range returns the measurement at step. Defaults to a flat wall.
	Range func(step int) (distance, intensity uint32)

	// UnboundedBurst is how many scans an unbounded continuous request
	// produces before the simulated device goes quiet.
	UnboundedBurst int

	// UnstableReplies makes the next N continuous replies report 0M.
	UnstableReplies int

	state       string
	rebootArmed bool
}

// NewSensor returns a standby UST-10LX whose counter started now.
func NewSensor(clock timeutil.Clock) *Sensor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sensor{
		Clock:          clock,
		Params:         DefaultParams(),
		BootTime:       clock.Now(),
		UnboundedBurst: 5,
		state:          stateStandby,
	}
}

// State returns the current three digit state code.
func (s *Sensor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState forces the state code.
func (s *Sensor) SetState(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = code
}

// Respond answers one request line.
func (s *Sensor) Respond(req string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := req
	if strings.HasPrefix(req, "%") && len(req) >= 3 {
		code = req[:3]
	} else if len(req) >= 2 {
		code = req[:2]
	}
	params := strings.TrimPrefix(req, code)
	if i := strings.IndexByte(params, ';'); i >= 0 {
		params = params[:i]
	}

	switch code {
	case "BM":
		switch s.state {
		case stateStandby:
			s.state = stateSingle
			return Reply(req, "00")
		case stateSingle, stateMulti:
			return Reply(req, "02")
		default:
			return Reply(req, "01")
		}
	case "QT":
		s.state = stateStandby
		return Reply(req, "00")
	case "%SL":
		if s.state != stateStandby && s.state != stateSingle {
			return Reply(req, "10")
		}
		s.state = stateSleep
		return Reply(req, "00")
	case "RS", "RT":
		s.state = stateStandby
		s.BootTime = s.Clock.Now()
		return Reply(req, "00")
	case "RB":
		if !s.rebootArmed {
			s.rebootArmed = true
			return Reply(req, "01")
		}
		s.rebootArmed = false
		s.state = stateStandby
		s.BootTime = s.Clock.Now()
		return Reply(req, "00")
	case "%ST":
		return Reply(req, "00", s.state)
	case "II":
		laser := "OFF"
		if s.state == stateSingle || s.state == stateMulti {
			laser = "ON"
		}
		return Reply(req, "00",
			InfoLine("MODL", s.Params.Model),
			InfoLine("LASR", laser),
			InfoLine("STAT", "Stable 000 no error."),
			InfoLine("TIME", scip.EncodePacked(s.sensorTime(), scip.TimestampWidth)),
		)
	case "VV":
		return Reply(req, "00",
			InfoLine("VEND", "Hokuyo Automatic Co., Ltd."),
			InfoLine("PROD", s.Params.Model),
			InfoLine("FIRM", s.Params.Firmware),
			InfoLine("PROT", "SCIP 2.2"),
			InfoLine("SERI", s.Params.Serial),
		)
	case "PP":
		if s.state == stateTimeSync {
			return Reply(req, "10")
		}
		p := s.Params
		return Reply(req, "00",
			InfoLine("MODL", p.Model),
			InfoLine("DMIN", strconv.Itoa(p.MinDistance)),
			InfoLine("DMAX", strconv.Itoa(p.MaxDistance)),
			InfoLine("ARES", strconv.Itoa(p.Resolution)),
			InfoLine("AMIN", strconv.Itoa(p.MinStep)),
			InfoLine("AMAX", strconv.Itoa(p.MaxStep)),
			InfoLine("AFRT", strconv.Itoa(p.FrontStep)),
			InfoLine("SCAN", strconv.Itoa(p.ScanRPM)),
		)
	case "TM":
		return s.timeSync(req, params)
	case "GD", "GS", "GE":
		return s.single(req, code, params)
	case "MD", "MS", "ME":
		return s.continuous(req, code, params)
	}
	return Reply(req, "0E")
}

func (s *Sensor) timeSync(req, params string) []byte {
	switch params {
	case "0":
		switch s.state {
		case stateTimeSync:
			return Reply(req, "02")
		case stateStandby:
			s.state = stateTimeSync
			return Reply(req, "00")
		}
		return Reply(req, "10")
	case "1":
		if s.state != stateTimeSync {
			return Reply(req, "04")
		}
		return Reply(req, "00", s.timestampLine())
	case "2":
		if s.state != stateTimeSync {
			return Reply(req, "03")
		}
		s.state = stateStandby
		return Reply(req, "00")
	}
	return Reply(req, "01")
}

func (s *Sensor) single(req, code, params string) []byte {
	if len(params) < 10 {
		return Reply(req, "0H")
	}
	if len(params) > 10 {
		return Reply(req, "0D")
	}
	start, end, grouping, ok := parseRange(params)
	if !ok || start < s.Params.MinStep || end > s.Params.MaxStep || start > end {
		return Reply(req, "0L")
	}
	if s.state != stateSingle && s.state != stateMulti {
		return Reply(req, "10")
	}
	lines := append([]string{s.timestampLine()}, s.scanPayload(code, start, end, grouping)...)
	return Reply(req, "00", lines...)
}

func (s *Sensor) continuous(req, code, params string) []byte {
	if len(params) != 13 {
		return Reply(req, "0H")
	}
	start, end, grouping, ok := parseRange(params)
	_, errSkip := strconv.Atoi(params[10:11])
	count, errCount := strconv.Atoi(params[11:13])
	if !ok || errSkip != nil || errCount != nil || start > end || end > s.Params.MaxStep {
		return Reply(req, "0L")
	}
	if s.state != stateStandby && s.state != stateSingle {
		return Reply(req, "10")
	}

	out := Reply(req, "00")
	prefix := code + params[:11]
	n := count
	if n == 0 {
		n = s.UnboundedBurst
	}
	for i := 0; i < n; i++ {
		remaining := 0
		if count > 0 {
			remaining = count - 1 - i
		}
		header := fmt.Sprintf("%s%02d", prefix, remaining)
		for s.UnstableReplies > 0 {
			s.UnstableReplies--
			out = append(out, Reply(header, "0M")...)
		}
		lines := append([]string{s.timestampLine()}, s.scanPayload(code, start, end, grouping)...)
		out = append(out, Reply(header, "99", lines...)...)
	}
	if count > 0 {
		s.state = stateSingle
	} else {
		s.state = stateMulti
	}
	return out
}

func parseRange(params string) (start, end, grouping int, ok bool) {
	var err1, err2, err3 error
	start, err1 = strconv.Atoi(params[0:4])
	end, err2 = strconv.Atoi(params[4:8])
	grouping, err3 = strconv.Atoi(params[8:10])
	return start, end, grouping, err1 == nil && err2 == nil && err3 == nil
}

func (s *Sensor) sensorTime() uint32 {
	ms := s.Clock.Now().Sub(s.BootTime).Milliseconds()
	return uint32(ms % (1 << 24))
}

func (s *Sensor) timestampLine() string {
	return scip.AppendChecksum(scip.EncodePacked(s.sensorTime(), scip.TimestampWidth))
}

func (s *Sensor) scanPayload(code string, start, end, grouping int) []string {
	if grouping < 1 {
		grouping = 1
	}
	width := scip.ThreeCharEncoding
	if code[1] == 'S' {
		width = scip.TwoCharEncoding
	}
	var sb strings.Builder
	for step := start; step <= end; step += grouping {
		d, in := s.measure(step)
		sb.WriteString(scip.EncodePacked(d, width))
		if code[1] == 'E' {
			sb.WriteString(scip.EncodePacked(in, width))
		}
	}
	return scip.EncodeBlocks(sb.String(), scip.BlockLength)
}

func (s *Sensor) measure(step int) (uint32, uint32) {
	if s.Range != nil {
		return s.Range(step)
	}
	return 1000 + uint32(step), 5000
}

// Reply builds a reply block.
func Reply(header, status string, payload ...string) []byte {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteByte('\n')
	sb.WriteString(scip.AppendChecksum(status))
	sb.WriteByte('\n')
	for _, l := range payload {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// InfoLine formats a "KEY:value;c" line of II, VV and PP replies. The
// checksum covers "KEY:value" only.
func InfoLine(key, value string) string {
	kv := key + ":" + value
	return kv + ";" + string(scip.Checksum([]byte(kv)))
}
