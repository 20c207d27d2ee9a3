// Package servo aims the pan servo at the tracked tag.
package servo

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/timeutil"
	"github.com/banshee-data/uwb.follow/internal/uwb"
)

// Mechanical limits and defaults, in degrees.
const (
	MinAngle         = 30.0
	MaxAngle         = 150.0
	CenterAngle      = 90.0
	DefaultTolerance = 5.0
)

// Default settle times: how long the drive signal is held after a move
// before it is released.
const (
	DefaultTrackSettle   = 200 * time.Millisecond
	DefaultManualSettle  = 700 * time.Millisecond
	DefaultStartupSettle = 500 * time.Millisecond
)

// Driver is the servo effector. SetDuty takes a duty cycle in percent of a
// 50 Hz period; zero releases the drive signal.
type Driver interface {
	SetDuty(percent float64) error
}

// DutyCycle maps a servo angle onto the duty cycle (percent) that commands
// it: 2.5% at 0° up to 12.5% at 180°.
func DutyCycle(angle float64) float64 {
	return 2.5 + (angle/180.0)*10.0
}

// Options tunes a Positioner. Zero values take the package defaults.
type Options struct {
	MinAngle      float64
	MaxAngle      float64
	CenterAngle   float64
	Tolerance     float64
	TrackSettle   time.Duration
	ManualSettle  time.Duration
	StartupSettle time.Duration
	Clock         timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.MinAngle == 0 {
		o.MinAngle = MinAngle
	}
	if o.MaxAngle == 0 {
		o.MaxAngle = MaxAngle
	}
	if o.CenterAngle == 0 {
		o.CenterAngle = CenterAngle
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.TrackSettle == 0 {
		o.TrackSettle = DefaultTrackSettle
	}
	if o.ManualSettle == 0 {
		o.ManualSettle = DefaultManualSettle
	}
	if o.StartupSettle == 0 {
		o.StartupSettle = DefaultStartupSettle
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// State is the positioner's view of the servo. CurrentAngle is the last
// angle actually commanded to the hardware, which lags the latest sample
// when a move was suppressed by hysteresis.
type State struct {
	CurrentAngle float64   `json:"current_angle"`
	Tracking     bool      `json:"tracking"`
	LastMove     time.Time `json:"last_move"`
}

// Positioner turns target angles into servo moves.
//
// Moves are serialised on driveMu, which is held for the whole
// drive-settle-release sequence; mu only guards State so readers are never
// blocked behind a settle delay.
type Positioner struct {
	driver Driver
	opts   Options

	driveMu sync.Mutex

	mu    sync.Mutex
	state State
}

// NewPositioner returns a positioner that believes the servo is centred and
// has tracking enabled. It does not move the servo; call Center for that.
func NewPositioner(driver Driver, opts Options) *Positioner {
	opts = opts.withDefaults()
	return &Positioner{
		driver: driver,
		opts:   opts,
		state: State{
			CurrentAngle: opts.CenterAngle,
			Tracking:     true,
			LastMove:     opts.Clock.Now(),
		},
	}
}

// Clamp limits angle to the positioner's mechanical range.
func (p *Positioner) Clamp(angle float64) float64 {
	return math.Max(p.opts.MinAngle, math.Min(p.opts.MaxAngle, angle))
}

// TargetForBearing converts a tag bearing into a servo angle. A tag dead
// ahead (bearing 0) maps to the centre.
func (p *Positioner) TargetForBearing(bearing float64) float64 {
	return p.Clamp(p.opts.CenterAngle - bearing)
}

// Center drives the servo to the centre angle, holds it for the startup
// settle time and releases it.
func (p *Positioner) Center() error {
	p.driveMu.Lock()
	defer p.driveMu.Unlock()
	return p.move(p.opts.CenterAngle, p.opts.StartupSettle)
}

// Track moves toward target unless tracking is disabled or target is within
// the hysteresis tolerance of the current angle. It reports whether the servo
// was commanded.
func (p *Positioner) Track(target float64) (bool, error) {
	target = p.Clamp(target)

	p.driveMu.Lock()
	defer p.driveMu.Unlock()

	p.mu.Lock()
	tracking, current := p.state.Tracking, p.state.CurrentAngle
	p.mu.Unlock()

	if !tracking || math.Abs(target-current) <= p.opts.Tolerance {
		return false, nil
	}
	if err := p.move(target, p.opts.TrackSettle); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateFromSample aims at the bearing carried by s.
func (p *Positioner) UpdateFromSample(s uwb.DecodedSample) (bool, error) {
	return p.Track(p.opts.CenterAngle - s.Angle)
}

// SetManual moves to angle (clamped) regardless of the tracking flag and the
// hysteresis tolerance, holding it for the longer manual settle time. It
// returns the angle commanded.
func (p *Positioner) SetManual(angle float64) (float64, error) {
	angle = p.Clamp(angle)

	p.driveMu.Lock()
	defer p.driveMu.Unlock()
	if err := p.move(angle, p.opts.ManualSettle); err != nil {
		return p.CurrentAngle(), err
	}
	return angle, nil
}

// SetTracking enables or disables automatic moves. It does not move the
// servo. The applied value is returned.
func (p *Positioner) SetTracking(enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Tracking != enabled {
		monitoring.Logf("servo tracking %s", onOff(enabled))
	}
	p.state.Tracking = enabled
	return enabled
}

func (p *Positioner) Tracking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Tracking
}

func (p *Positioner) CurrentAngle() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentAngle
}

func (p *Positioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Release zeroes the drive signal. It waits for any move in progress.
func (p *Positioner) Release() error {
	p.driveMu.Lock()
	defer p.driveMu.Unlock()
	if err := p.driver.SetDuty(0); err != nil {
		return fmt.Errorf("release servo: %w", err)
	}
	return nil
}

// move drives to angle, holds for settle and releases. The caller holds
// driveMu. State is only updated once the hardware accepted the command.
func (p *Positioner) move(angle float64, settle time.Duration) error {
	duty := DutyCycle(angle)
	if err := p.driver.SetDuty(duty); err != nil {
		return fmt.Errorf("drive servo to %.1f°: %w", angle, err)
	}
	monitoring.Logf("servo angle %.1f° (duty %.2f%%)", angle, duty)

	p.mu.Lock()
	p.state.CurrentAngle = angle
	p.state.LastMove = p.opts.Clock.Now()
	p.mu.Unlock()

	p.opts.Clock.Sleep(settle)

	if err := p.driver.SetDuty(0); err != nil {
		return fmt.Errorf("release servo after move: %w", err)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
