package sim

import (
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/hokuyo/internal/scip"
	"github.com/banshee-data/hokuyo/internal/timeutil"
)

func parse(t *testing.T, raw []byte) []*scip.Reply {
	t.Helper()
	var replies []*scip.Reply
	for _, block := range strings.SplitAfter(string(raw), "\n\n") {
		if block == "" {
			continue
		}
		lines, err := scip.DecodeFrame([]byte(block))
		if err != nil {
			t.Fatalf("DecodeFrame(%q): %v", block, err)
		}
		reply, err := scip.ParseReply(lines)
		if err != nil {
			t.Fatalf("ParseReply(%q): %v", block, err)
		}
		replies = append(replies, reply)
	}
	return replies
}

func TestStateTransitions(t *testing.T) {
	s := NewSensor(timeutil.NewMockClock(time.Unix(1000, 0)))
	steps := []struct {
		req    string
		status string
		state  string
	}{
		{"BM", "00", "003"},
		{"BM", "02", "003"},
		{"TM0", "10", "003"},
		{"QT", "00", "000"},
		{"TM1", "04", "000"},
		{"TM0", "00", "002"},
		{"PP", "10", "002"},
		{"TM2", "00", "000"},
		{"%SL", "00", "005"},
		{"BM", "01", "005"},
		{"RB", "01", "005"},
		{"RB", "00", "000"},
		{"XX", "0E", "000"},
	}
	for _, step := range steps {
		replies := parse(t, s.Respond(step.req))
		if len(replies) != 1 {
			t.Fatalf("%s: got %d replies", step.req, len(replies))
		}
		if replies[0].Header != step.req || replies[0].Status != step.status {
			t.Errorf("%s: got %s/%s, want status %s", step.req, replies[0].Header, replies[0].Status, step.status)
		}
		if got := s.State(); got != step.state {
			t.Errorf("%s: state %s, want %s", step.req, got, step.state)
		}
	}
}

func TestSensorTime(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	s := NewSensor(clock)
	s.Respond("TM0")
	clock.Advance(time.Duration(1<<24+42) * time.Millisecond)

	replies := parse(t, s.Respond("TM1"))
	raw, err := scip.DecodeTimestamp(replies[0].Payload[0])
	if err != nil {
		t.Fatal(err)
	}
	if raw != 42 {
		t.Errorf("raw = %d, want 42", raw)
	}
}

func TestContinuousReplies(t *testing.T) {
	s := NewSensor(timeutil.NewMockClock(time.Unix(1000, 0)))
	s.UnstableReplies = 1

	replies := parse(t, s.Respond("ME0000000100002"))
	if len(replies) != 4 {
		t.Fatalf("got %d replies, want ack, unstable and 2 scans", len(replies))
	}
	want := []struct{ header, status string }{
		{"ME0000000100002", "00"},
		{"ME0000000100001", "0M"},
		{"ME0000000100001", "99"},
		{"ME0000000100000", "99"},
	}
	for i, w := range want {
		if replies[i].Header != w.header || replies[i].Status != w.status {
			t.Errorf("reply %d: got %s/%s, want %s/%s", i, replies[i].Header, replies[i].Status, w.header, w.status)
		}
	}
	values, err := scip.DecodeBlocks(replies[2].Payload[1:], scip.ThreeCharEncoding)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 4 || values[0] != 1000 || values[1] != 5000 || values[2] != 1001 {
		t.Errorf("values = %v", values)
	}
	if s.State() != "003" {
		t.Errorf("state after bounded stream = %s", s.State())
	}
}

func TestSingleScanValidation(t *testing.T) {
	s := NewSensor(nil)
	s.SetState("003")
	for req, status := range map[string]string{
		"GD000010":       "0H",
		"GD000010800000": "0D",
		"GD0000200000":   "0L",
		"GD0500040000":   "0L",
		"GS0000108000":   "00",
	} {
		replies := parse(t, s.Respond(req))
		if replies[0].Status != status {
			t.Errorf("%s: status %s, want %s", req, replies[0].Status, status)
		}
	}
}

func TestInfoLine(t *testing.T) {
	line := InfoLine("MODL", "UST-10LX")
	if !strings.HasPrefix(line, "MODL:UST-10LX;") || len(line) != len("MODL:UST-10LX;")+1 {
		t.Fatalf("InfoLine = %q", line)
	}
	if line[len(line)-1] != scip.Checksum([]byte("MODL:UST-10LX")) {
		t.Errorf("bad checksum in %q", line)
	}
}
