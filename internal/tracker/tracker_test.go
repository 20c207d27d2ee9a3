package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/servo"
	"github.com/banshee-data/uwb.follow/internal/timeutil"
	"github.com/banshee-data/uwb.follow/internal/uwb"
	"github.com/banshee-data/uwb.follow/internal/volume"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeDriver struct {
	mu      sync.Mutex
	duty    []float64
	panicOn bool
}

func (d *fakeDriver) SetDuty(p float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicOn && p != 0 {
		panic("pwm exploded")
	}
	d.duty = append(d.duty, p)
	return nil
}

func (d *fakeDriver) calls() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.duty...)
}

type fakeMixer struct {
	mu     sync.Mutex
	levels []int
	err    error
}

func (m *fakeMixer) SetVolume(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = append(m.levels, level)
	return m.err
}

type fakeRecorder struct {
	mu   sync.Mutex
	rows []string
}

func (r *fakeRecorder) RecordSample(s uwb.DecodedSample, mode string, level int, servoAngle float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, fmt.Sprintf("%s %g %s %d %g", s.AddressHex(), s.Angle, mode, level, servoAngle))
	return nil
}

type fixture struct {
	tracker *Tracker
	driver  *fakeDriver
	mixer   *fakeMixer
	clock   *timeutil.MockClock
	zones   *zones.MemoryRepository
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		driver: &fakeDriver{},
		mixer:  &fakeMixer{},
		clock:  timeutil.NewMockClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
		zones:  zones.NewMemoryRepository(zones.DefaultTolerance),
	}
	pos := servo.NewPositioner(f.driver, servo.Options{Clock: f.clock})
	vol := volume.NewController(f.mixer, f.zones, volume.Options{})
	opts.Clock = f.clock
	f.tracker = New(pos, vol, f.zones, opts)
	return f
}

// frameAt builds a frame decoding to the given bearing and range.
func frameAt(t *testing.T, bearing, metres float64) uwb.RawFrame {
	t.Helper()
	var raw float64
	marker := uwb.SignMarkerZero
	if bearing > 0 {
		marker = uwb.SignMarkerHigh
		raw = 255 - bearing
	} else {
		raw = -bearing
	}
	require.True(t, raw >= 0 && raw <= 255, "bearing %v not encodable", bearing)
	return uwb.BuildFrame(0x1234, byte(raw), marker, uwb.RawDistanceFor(metres))
}

func TestTracker_InitialSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	snap := f.tracker.Snapshot()

	assert.Equal(t, NotConnected, snap.Address)
	assert.Equal(t, 90.0, snap.Angle)
	assert.Equal(t, 0.0, snap.Distance)
	assert.Equal(t, 60, snap.Volume)
	assert.Equal(t, volume.Auto, snap.Mode)
	assert.Equal(t, 90.0, snap.ServoAngle)
	assert.True(t, snap.AutoTracking)
	assert.Equal(t, 60, snap.ManualVolume)
	assert.Nil(t, snap.CapturedAt)
	assert.False(t, snap.Stale)
}

func TestTracker_HandleFrame(t *testing.T) {
	rec := &fakeRecorder{}
	f := newFixture(t, Options{Recorder: rec})

	require.NoError(t, f.tracker.HandleFrame(frameAt(t, -20, 1.5)))
	snap := f.tracker.Snapshot()

	assert.Equal(t, "0x1234", snap.Address)
	assert.Equal(t, -20.0, snap.Angle)
	assert.InDelta(t, 1.5, snap.Distance, 0.01)
	assert.Equal(t, 78, snap.Volume)
	assert.Equal(t, 110.0, snap.ServoAngle)
	require.NotNil(t, snap.CapturedAt)
	assert.True(t, snap.CapturedAt.Equal(f.clock.Now().Add(-200*time.Millisecond)), "captured before the settle delay")

	assert.Equal(t, []float64{servo.DutyCycle(110), 0}, f.driver.calls())
	assert.Equal(t, []int{78}, f.mixer.levels)
	assert.Equal(t, []string{"0x1234 -20 auto 78 110"}, rec.rows)

	st := f.tracker.Stats()
	assert.Equal(t, uint64(1), st.Samples)
	assert.Equal(t, uint64(1), st.ServoMoves)
	assert.Equal(t, 1, st.History.Count)
}

func TestTracker_BadMarkerLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, Options{})
	before := f.tracker.Snapshot()

	bad := uwb.BuildFrame(0x1, 10, 0x7F, 1000)
	err := f.tracker.HandleFrame(bad)
	assert.ErrorIs(t, err, uwb.ErrBadSignMarker)

	assert.Equal(t, before, f.tracker.Snapshot())
	assert.Empty(t, f.driver.calls())
	assert.Empty(t, f.mixer.levels)
	assert.Equal(t, uint64(1), f.tracker.Stats().DecodeFailures)
}

func TestTracker_ZonedStickyHold(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.tracker.AddZone(zones.Zone{Name: "A", Angle: 90, Distance: 1.0, Volume: 70})
	require.NoError(t, err)
	mode, err := f.tracker.SetMode("zoned")
	require.NoError(t, err)
	assert.Equal(t, volume.Zoned, mode)

	require.NoError(t, f.tracker.HandleFrame(frameAt(t, 91, 1.05)))
	assert.Equal(t, 70, f.tracker.Snapshot().Volume)

	require.NoError(t, f.tracker.HandleFrame(frameAt(t, 10, 5.0)))
	assert.Equal(t, 70, f.tracker.Snapshot().Volume)
}

func TestTracker_ManualIsolation(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.tracker.SetManualVolume(40)
	require.NoError(t, err)
	_, err = f.tracker.SetMode("custom2")
	require.NoError(t, err)

	for _, d := range []float64{0.3, 2.2, 1.5} {
		require.NoError(t, f.tracker.HandleFrame(frameAt(t, 0, d)))
		snap := f.tracker.Snapshot()
		assert.Equal(t, 40, snap.Volume)
		assert.Equal(t, volume.Manual, snap.Mode)
	}

	_, err = f.tracker.SetMode("auto")
	require.NoError(t, err)
	assert.Equal(t, 78, f.tracker.Snapshot().Volume)
}

func TestTracker_ManualVolumeReportedImmediately(t *testing.T) {
	f := newFixture(t, Options{})
	got, err := f.tracker.SetManualVolume(25)
	require.NoError(t, err)
	assert.Equal(t, 25, got)

	snap := f.tracker.Snapshot()
	assert.Equal(t, 25, snap.Volume)
	assert.Equal(t, 25, snap.ManualVolume)
	assert.Empty(t, f.mixer.levels)
}

func TestTracker_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	before := f.tracker.Snapshot()

	var verr *ValidationError

	_, err := f.tracker.SetServoAngle(10)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "angle", verr.Field)

	_, err = f.tracker.SetServoAngle(150.5)
	assert.True(t, errors.As(err, &verr))

	_, err = f.tracker.SetMode("loud")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "mode", verr.Field)

	_, err = f.tracker.SetManualVolume(101)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "volume", verr.Field)

	_, err = f.tracker.AddZone(zones.Zone{Name: "", Volume: 10})
	assert.True(t, errors.As(err, &verr))

	assert.Equal(t, before, f.tracker.Snapshot(), "rejected commands change nothing")
	assert.Empty(t, f.driver.calls())
}

func TestTracker_SetServoAngle(t *testing.T) {
	f := newFixture(t, Options{})
	got, err := f.tracker.SetServoAngle(120)
	require.NoError(t, err)
	assert.Equal(t, 120.0, got)
	assert.Equal(t, 120.0, f.tracker.Snapshot().ServoAngle)
	assert.Equal(t, []time.Duration{700 * time.Millisecond}, f.clock.Sleeps())
}

func TestTracker_TrackingDisabled(t *testing.T) {
	f := newFixture(t, Options{})
	assert.False(t, f.tracker.SetTracking(false))
	assert.False(t, f.tracker.Snapshot().AutoTracking)

	require.NoError(t, f.tracker.HandleFrame(frameAt(t, -50, 1)))
	assert.Empty(t, f.driver.calls())
	assert.Equal(t, 90.0, f.tracker.Snapshot().ServoAngle)
	assert.Equal(t, -50.0, f.tracker.Snapshot().Angle, "samples still update the read model")

	// manual moves still work while tracking is off
	_, err := f.tracker.SetServoAngle(45)
	require.NoError(t, err)
	assert.Equal(t, 45.0, f.tracker.Snapshot().ServoAngle)
}

func TestTracker_Zones(t *testing.T) {
	f := newFixture(t, Options{})
	created, err := f.tracker.AddZone(zones.Zone{Name: "  desk ", Angle: 0, Distance: 1, Volume: 30})
	require.NoError(t, err)
	assert.Equal(t, "desk", created.Name)

	list, err := f.tracker.Zones()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.tracker.RemoveZone("nope"))
	list, _ = f.tracker.Zones()
	assert.Len(t, list, 1)

	require.NoError(t, f.tracker.RemoveZone("desk"))
	list, _ = f.tracker.Zones()
	assert.Empty(t, list)
}

func TestTracker_MixerFailureCounted(t *testing.T) {
	f := newFixture(t, Options{})
	f.mixer.err = errors.New("no card")

	require.NoError(t, f.tracker.HandleFrame(frameAt(t, 0, 1)))
	assert.Equal(t, 72, f.tracker.Snapshot().Volume)
	assert.Equal(t, uint64(1), f.tracker.Stats().ActuatorErrors)
}

func TestTracker_RunConsumesFramesUntilClosed(t *testing.T) {
	f := newFixture(t, Options{})
	frames := make(chan uwb.RawFrame, 3)
	frames <- frameAt(t, 0, 0.4)
	frames <- uwb.BuildFrame(1, 1, 0x01, 1)
	frames <- frameAt(t, 0, 3.5)
	close(frames)

	require.NoError(t, f.tracker.Run(context.Background(), frames))

	st := f.tracker.Stats()
	assert.Equal(t, uint64(2), st.Samples)
	assert.Equal(t, uint64(1), st.DecodeFailures)
	assert.Equal(t, 100, f.tracker.Snapshot().Volume)
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(ctx, make(chan uwb.RawFrame)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTracker_StalenessIsLoggedOncePerTransition(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf(format, v...))
		mu.Unlock()
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	f := newFixture(t, Options{StaleAfter: 500 * time.Millisecond})
	frames := make(chan uwb.RawFrame)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(ctx, frames) }()

	count := func(substr string) int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, l := range lines {
			if strings.Contains(l, substr) {
				n++
			}
		}
		return n
	}

	// the ticker is created inside Run; keep advancing until it fires
	require.Eventually(t, func() bool {
		f.clock.Advance(600 * time.Millisecond)
		return count("no UWB data") == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.tracker.Snapshot().Stale)

	f.clock.Advance(600 * time.Millisecond)
	f.clock.Advance(600 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, count("no UWB data"), "staleness is logged once, not on every tick")

	frames <- frameAt(t, 0, 1)
	require.Eventually(t, func() bool { return count("UWB data resumed") == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.tracker.Snapshot().Stale)

	cancel()
	<-done
}

func TestTracker_PanicIsRecoveredAndServoReleased(t *testing.T) {
	f := newFixture(t, Options{})
	f.driver.panicOn = true

	frames := make(chan uwb.RawFrame, 2)
	frames <- frameAt(t, -40, 1)
	close(frames)

	require.NotPanics(t, func() {
		require.NoError(t, f.tracker.Run(context.Background(), frames))
	})
	assert.Equal(t, []float64{0}, f.driver.calls(), "drive released after the panic")
}

func TestTracker_ConcurrentCommandsAndSamples(t *testing.T) {
	f := newFixture(t, Options{})
	_, _ = f.tracker.AddZone(zones.Zone{Name: "A", Angle: 0, Distance: 1, Volume: 33})

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan uwb.RawFrame)
	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(ctx, frames) }()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			frames <- frameAt(t, float64(i%60-30), float64(i%40)/10)
		}
	}()
	go func() {
		defer wg.Done()
		modes := []string{"auto", "zoned", "manual"}
		for i := 0; i < 200; i++ {
			_, _ = f.tracker.SetMode(modes[i%3])
			_, _ = f.tracker.SetManualVolume(i % 101)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 400; i++ {
			snap := f.tracker.Snapshot()
			if snap.Mode == volume.Manual && snap.Volume != snap.ManualVolume {
				t.Errorf("manual snapshot reports %d, manual volume is %d", snap.Volume, snap.ManualVolume)
				return
			}
			_ = f.tracker.Stats()
		}
	}()
	wg.Wait()
	cancel()
	<-done
}
