// Package tracker runs the sampling loop: it decodes frames, aims the servo,
// updates the volume state machine and publishes the snapshot the control
// surface reads.
package tracker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/servo"
	"github.com/banshee-data/uwb.follow/internal/timeutil"
	"github.com/banshee-data/uwb.follow/internal/uwb"
	"github.com/banshee-data/uwb.follow/internal/volume"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

// Recorder stores decoded samples with the output they produced.
type Recorder interface {
	RecordSample(s uwb.DecodedSample, mode string, volume int, servoAngle float64) error
}

// Options configures a Tracker.
type Options struct {
	Clock      timeutil.Clock
	StaleAfter time.Duration
	// Recorder, when set, receives every decoded sample.
	Recorder Recorder
}

// Tracker owns the controller state shared between the sampling loop and
// the command handlers.
//
// mu guards the volume controller, the last sample and the published
// snapshot, so a command is applied atomically with respect to a sample.
// Servo moves happen outside mu: the positioner serialises them itself and
// its settle delays must not block readers.
type Tracker struct {
	servo    *servo.Positioner
	zones    zones.Repository
	clock    timeutil.Clock
	recorder Recorder
	fresh    *uwb.Staleness

	mu             sync.Mutex
	vol            *volume.Controller
	last           *uwb.DecodedSample
	snap           Snapshot
	stale          bool
	history        History
	samples        uint64
	decodeFailures uint64
	servoMoves     uint64
	actuatorErrors uint64
}

// New wires a tracker. vol should match zones against repo.
func New(pos *servo.Positioner, vol *volume.Controller, repo zones.Repository, opts Options) *Tracker {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Tracker{
		servo:    pos,
		zones:    repo,
		clock:    clock,
		recorder: opts.Recorder,
		fresh:    uwb.NewStaleness(clock, opts.StaleAfter),
		vol:      vol,
	}
	t.mu.Lock()
	t.publishLocked()
	t.mu.Unlock()
	return t
}

// Run consumes frames until ctx is done or frames is closed. Staleness is
// checked on a ticker so a silent tag is logged once when it goes quiet and
// once when it comes back.
func (t *Tracker) Run(ctx context.Context, frames <-chan uwb.RawFrame) error {
	ticker := t.clock.NewTicker(t.fresh.Timeout())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			t.safeHandleFrame(f)
		case <-ticker.C():
			t.checkStale()
		}
	}
}

// safeHandleFrame keeps the loop alive across a panic in frame handling and
// makes sure the servo is not left driven.
func (t *Tracker) safeHandleFrame(f uwb.RawFrame) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("panic handling frame %s: %v\n%s", f, r, debug.Stack())
			if err := t.servo.Release(); err != nil {
				monitoring.Logf("failed to release servo after panic: %v", err)
			}
		}
	}()
	if err := t.HandleFrame(f); err != nil {
		monitoring.Debugf("dropped frame %s: %v", f, err)
	}
}

// HandleFrame decodes one frame and applies it. A decode failure drops the
// frame without touching any state; actuator failures are logged and the
// sample is still applied.
func (t *Tracker) HandleFrame(f uwb.RawFrame) error {
	s, err := uwb.Decode(f, t.clock.Now())
	if err != nil {
		t.mu.Lock()
		t.decodeFailures++
		t.mu.Unlock()
		return err
	}

	moved, servoErr := t.servo.UpdateFromSample(s)
	if servoErr != nil {
		monitoring.Logf("servo: %v", servoErr)
	}

	t.mu.Lock()
	level, volErr := t.vol.Process(s)
	if volErr != nil {
		monitoring.Logf("volume: %v", volErr)
	}
	t.last = &s
	t.samples++
	if moved {
		t.servoMoves++
	}
	if servoErr != nil || volErr != nil {
		t.actuatorErrors++
	}
	t.history.Add(s.Angle, s.Distance)
	t.fresh.MarkFresh()
	if t.stale {
		t.stale = false
		monitoring.Logf("UWB data resumed")
	}
	mode := t.vol.Mode()
	t.publishLocked()
	snap := t.snap
	t.mu.Unlock()

	monitoring.Logf("%s | volume: %d%%", s, snap.Volume)

	if t.recorder != nil {
		if err := t.recorder.RecordSample(s, mode.String(), level, snap.ServoAngle); err != nil {
			monitoring.Logf("failed to record sample: %v", err)
		}
	}
	return nil
}

func (t *Tracker) checkStale() {
	stale := t.fresh.Stale()
	t.mu.Lock()
	defer t.mu.Unlock()
	if stale && !t.stale {
		t.stale = true
		monitoring.Logf("no UWB data for %s, holding last state", t.fresh.Age().Round(time.Millisecond))
	}
}

// publishLocked rebuilds the snapshot. The caller holds mu.
func (t *Tracker) publishLocked() {
	st := t.servo.State()
	snap := Snapshot{
		Address:      NotConnected,
		Angle:        servo.CenterAngle,
		Volume:       t.vol.Level(),
		Mode:         t.vol.Mode(),
		ServoAngle:   st.CurrentAngle,
		AutoTracking: st.Tracking,
		ManualVolume: t.vol.ManualVolume(),
	}
	if t.last != nil {
		at := t.last.CapturedAt
		snap.Address = t.last.AddressHex()
		snap.Angle = t.last.Angle
		snap.Distance = t.last.Distance
		snap.CapturedAt = &at
	}
	t.snap = snap
}

// Snapshot returns the latest published state. Stale is evaluated at read
// time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	snap := t.snap
	t.mu.Unlock()
	snap.Stale = t.fresh.Stale()
	return snap
}

// Stats returns loop counters and recent distance statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Samples:        t.samples,
		DecodeFailures: t.decodeFailures,
		ServoMoves:     t.servoMoves,
		ActuatorErrors: t.actuatorErrors,
		LastSampleAge:  t.fresh.Age().Round(time.Millisecond).String(),
		Stale:          t.fresh.Stale(),
		History:        t.history.Stats(),
	}
}

// String is used in log lines.
func (s Snapshot) String() string {
	return fmt.Sprintf("address=%s angle=%g distance=%.2f volume=%d mode=%s servo=%.1f",
		s.Address, s.Angle, s.Distance, s.Volume, s.Mode, s.ServoAngle)
}
