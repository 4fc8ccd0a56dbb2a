package hokuyo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/banshee-data/hokuyo/internal/monitoring"
	"github.com/banshee-data/hokuyo/internal/scip"
)

// LaserState is a sensor state code as reported by %ST.
type LaserState int

const (
	StateStandby            LaserState = 0
	StateBooting            LaserState = 1
	StateTimeSync           LaserState = 2
	StateSingleScan         LaserState = 3
	StateMultiScan          LaserState = 4
	StateSleep              LaserState = 5
	StateWakingUp           LaserState = 6
	StateStandbyUnstable    LaserState = 100
	StateTimeSyncUnstable   LaserState = 102
	StateSingleScanUnstable LaserState = 103
	StateMultiScanUnstable  LaserState = 104
	StateError              LaserState = 900
)

// Code returns the three digit wire form.
func (s LaserState) Code() string {
	return fmt.Sprintf("%03d", int(s))
}

func (s LaserState) String() string {
	if desc, ok := scip.LaserStates[s.Code()]; ok {
		return desc
	}
	return "Unknown state " + s.Code()
}

// Measuring reports whether the laser is lit.
func (s LaserState) Measuring() bool {
	return s == StateSingleScan || s == StateMultiScan
}

// LaserState queries the current sensor state. It is valid in any state.
func (d *Driver) LaserState(ctx context.Context) (LaserState, string, error) {
	if err := d.acquire(ctx); err != nil {
		return 0, "", err
	}
	defer d.release()
	return d.laserState(ctx)
}

func (d *Driver) laserState(ctx context.Context) (LaserState, string, error) {
	reply, err := d.request(ctx, "%ST", "", "")
	if err != nil {
		return 0, "", err
	}
	if reply.Status != scip.StatusOK {
		return 0, "", scip.NewStatusError("%ST", reply.Status, nil)
	}
	if len(reply.Payload) == 0 {
		return 0, "", &scip.ProtocolError{Kind: scip.MalformedReply, Detail: "%ST reply has no state line"}
	}
	code := reply.Payload[0]
	if len(code) == 4 {
		if code, err = scip.VerifyChecksum(code); err != nil {
			return 0, "", err
		}
	}
	desc, ok := scip.LaserStates[code]
	if !ok {
		return 0, "", &scip.ProtocolError{Kind: scip.UnexpectedState, Detail: fmt.Sprintf("unknown laser state code %q", code)}
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, "", &scip.ProtocolError{Kind: scip.UnexpectedState, Detail: fmt.Sprintf("unknown laser state code %q", code)}
	}
	return LaserState(n), desc, nil
}

// ForceStandby brings the sensor to standby from measurement, sleep or time
// sync. Transitional and error states are refused with UnexpectedState.
func (d *Driver) ForceStandby(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	_, err := d.forceStandby(ctx)
	return err
}

// forceStandby returns the state the sensor was in before.
func (d *Driver) forceStandby(ctx context.Context) (LaserState, error) {
	state, desc, err := d.laserState(ctx)
	if err != nil {
		return 0, err
	}
	switch state {
	case StateStandby:
		return state, nil
	case StateSingleScan, StateMultiScan, StateSleep:
		return state, d.standby(ctx)
	case StateTimeSync:
		_, _, err := d.timeSyncCommand(ctx, 2)
		return state, err
	}
	return state, &scip.ProtocolError{Kind: scip.UnexpectedState, Detail: fmt.Sprintf("unexpected laser state: %s", desc)}
}

// Activate switches the sensor to measurement state and lights the laser.
// It returns the BM status code and its description; "01" and "02" are not
// errors.
func (d *Driver) Activate(ctx context.Context) (string, string, error) {
	if err := d.acquire(ctx); err != nil {
		return "", "", err
	}
	defer d.release()
	return d.activate(ctx)
}

func (d *Driver) activate(ctx context.Context) (string, string, error) {
	monitoring.Logf("Activating the laser")
	reply, err := d.request(ctx, "BM", "", "")
	if err != nil {
		return "", "", err
	}
	desc, ok := scip.ActivationStatuses[reply.Status]
	if !ok {
		return "", "", scip.NewStatusError("BM", reply.Status, nil)
	}
	return reply.Status, desc, nil
}

// Standby turns the laser off and stops measurement.
func (d *Driver) Standby(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	return d.standby(ctx)
}

func (d *Driver) standby(ctx context.Context) error {
	monitoring.Logf("Switching to standby")
	return d.simple(ctx, "QT")
}

// Sleep forces standby and then puts the sensor to sleep.
func (d *Driver) Sleep(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	if _, err := d.forceStandby(ctx); err != nil {
		return err
	}
	monitoring.Logf("Switching to sleep")
	return d.simple(ctx, "%SL")
}

// Reset returns the sensor to standby and restores the motor speed, bit
// rate, timer and sensitivity defaults.
func (d *Driver) Reset(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	monitoring.Logf("Performing sensor reset")
	return d.simple(ctx, "RS")
}

// PartialReset is Reset without touching motor speed and bit rate.
func (d *Driver) PartialReset(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	monitoring.Logf("Performing partial sensor reset")
	return d.simple(ctx, "RT")
}

// Reboot runs the two step RB handshake: the first request must be answered
// with "01", the second with "00". It is the only transition accepted in the
// error state.
func (d *Driver) Reboot(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	monitoring.Logf("Reboot: sending first reboot command")
	reply, err := d.request(ctx, "RB", "", "")
	if err != nil {
		return err
	}
	if reply.Status != scip.StatusRebooting {
		return fmt.Errorf("reboot first step: %w", scip.NewStatusError("RB", reply.Status, nil))
	}
	monitoring.Logf("Reboot: sending second reboot command")
	if err := d.simple(ctx, "RB"); err != nil {
		return fmt.Errorf("reboot second step: %w", err)
	}
	return nil
}

// simple sends a parameterless command that must be answered with "00".
func (d *Driver) simple(ctx context.Context, code string) error {
	reply, err := d.request(ctx, code, "", "")
	if err != nil {
		return err
	}
	if reply.Status != scip.StatusOK {
		return scip.NewStatusError(code, reply.Status, nil)
	}
	return nil
}

// TimeSyncEnter moves the sensor from standby to time sync state.
func (d *Driver) TimeSyncEnter(ctx context.Context) (string, string, error) {
	if err := d.acquire(ctx); err != nil {
		return "", "", err
	}
	defer d.release()
	monitoring.Logf("Entering time sync mode")
	return d.timeSyncCommand(ctx, 0)
}

// TimeSyncExit returns the sensor from time sync state to standby.
func (d *Driver) TimeSyncExit(ctx context.Context) (string, string, error) {
	if err := d.acquire(ctx); err != nil {
		return "", "", err
	}
	defer d.release()
	monitoring.Logf("Exiting time sync mode")
	return d.timeSyncCommand(ctx, 2)
}

// SensorTime reads the raw sensor timer with TM1. The sensor must be in
// time sync state.
func (d *Driver) SensorTime(ctx context.Context) (uint32, error) {
	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()
	return d.sensorTime(ctx)
}

func (d *Driver) sensorTime(ctx context.Context) (uint32, error) {
	reply, err := d.request(ctx, "TM", "1", "")
	if err != nil {
		return 0, err
	}
	if reply.Status != scip.StatusOK {
		return 0, fmt.Errorf("failed to get sensor time: %w", scip.NewStatusError("TM1", reply.Status, scip.TimeSyncStatuses))
	}
	if len(reply.Payload) == 0 {
		return 0, &scip.ProtocolError{Kind: scip.MalformedReply, Detail: "TM1 reply has no timestamp"}
	}
	return scip.DecodeTimestamp(reply.Payload[0])
}

// timeSyncCommand sends TM<code>. Any code from the TM status table is
// returned without error.
func (d *Driver) timeSyncCommand(ctx context.Context, code int) (string, string, error) {
	reply, err := d.request(ctx, "TM", strconv.Itoa(code), "")
	if err != nil {
		return "", "", err
	}
	desc, ok := scip.TimeSyncStatuses[reply.Status]
	if !ok {
		return "", "", scip.NewStatusError("TM"+strconv.Itoa(code), reply.Status, nil)
	}
	return reply.Status, desc, nil
}

// TimeSync estimates the sensor clock offset. The sensor passes through
// standby; a laser that was lit is relit afterwards.
func (d *Driver) TimeSync(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	return d.clock.Estimate(ctx, &sampler{d: d})
}

// BeginSync, SensorTime and EndSync make Driver a clocksync.SessionSampler
// for callers running their own Synchronizer. Unlike TimeSync, EndSync
// leaves the sensor in standby.
func (d *Driver) BeginSync(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	return (&sampler{d: d}).BeginSync(ctx)
}

func (d *Driver) EndSync(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	return (&sampler{d: d}).EndSync(ctx)
}

// sampler runs a sync session on behalf of a caller already holding the
// lock.
type sampler struct {
	d     *Driver
	prior LaserState
}

func (s *sampler) BeginSync(ctx context.Context) error {
	prior, err := s.d.forceStandby(ctx)
	if err != nil {
		return err
	}
	s.prior = prior
	code, desc, err := s.d.timeSyncCommand(ctx, 0)
	if err != nil {
		return err
	}
	if code != scip.StatusOK {
		monitoring.Logf("Failed to enter time sync mode: %s (%s)", desc, code)
	}
	return nil
}

func (s *sampler) SensorTime(ctx context.Context) (uint32, error) {
	return s.d.sensorTime(ctx)
}

func (s *sampler) EndSync(ctx context.Context) error {
	code, desc, err := s.d.timeSyncCommand(ctx, 2)
	if err != nil {
		return err
	}
	if code != scip.StatusOK {
		monitoring.Logf("Failed to exit time sync mode: %s (%s)", desc, code)
	}
	if s.prior.Measuring() {
		code, desc, err := s.d.activate(ctx)
		if err != nil {
			return err
		}
		monitoring.Logf("Laser reactivated after time sync: %s (%s)", desc, code)
	}
	return nil
}
