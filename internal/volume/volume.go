// Package volume decides the audio output level from tag samples and drives
// the mixer.
package volume

import (
	"errors"
	"fmt"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/uwb"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

// DefaultLevel is the level reported before any sample and the initial
// manual and zoned levels.
const DefaultLevel = 60

// ErrLevelRange is returned for levels outside 0-100.
var ErrLevelRange = errors.New("volume must be between 0 and 100")

// AutoLevel maps a distance in metres onto an output level. The curve is
// piecewise linear and continuous: 60 up to 0.5 m, 72 at 1 m, 85 at 2 m and
// 100 from 3 m on. The result is truncated.
func AutoLevel(d float64) int {
	switch {
	case d <= 0.5:
		return 60
	case d <= 1.0:
		return int(60 + 24*(d-0.5))
	case d <= 2.0:
		return int(72 + 13*(d-1.0))
	case d <= 3.0:
		return int(85 + 15*(d-2.0))
	default:
		return 100
	}
}

// Mixer is the audio effector.
type Mixer interface {
	SetVolume(level int) error
}

// Matcher finds the zone a sample falls in.
type Matcher interface {
	Match(angle, distance float64) (zones.Zone, bool, error)
}

// Options sets the controller's starting levels. Zero values take
// DefaultLevel; use a negative value for an explicit zero.
type Options struct {
	InitialManual int
	InitialZoned  int
}

func startLevel(v int) int {
	switch {
	case v == 0:
		return DefaultLevel
	case v < 0:
		return 0
	}
	return v
}

// Controller is the volume mode state machine.
//
// A Controller is not safe for concurrent use: the tracker serialises
// samples and commands under its own lock so a mode switch is never
// observed half-applied by a sample.
type Controller struct {
	mixer Mixer
	zones Matcher

	mode         Mode
	manual       int
	lastZoned    int
	lastDistance float64
	level        int
}

// NewController starts in Auto mode reporting DefaultLevel. It does not
// touch the mixer.
func NewController(mixer Mixer, zones Matcher, opts Options) *Controller {
	return &Controller{
		mixer:     mixer,
		zones:     zones,
		mode:      Auto,
		manual:    startLevel(opts.InitialManual),
		lastZoned: startLevel(opts.InitialZoned),
		level:     DefaultLevel,
	}
}

// Process updates the output for one sample and returns the level now
// reported. A mixer or zone lookup failure is returned after the state has
// been updated; the sample is not retried.
func (c *Controller) Process(s uwb.DecodedSample) (int, error) {
	c.lastDistance = s.Distance

	switch c.mode {
	case Auto:
		c.level = AutoLevel(s.Distance)
		return c.level, c.apply(c.level)

	case Zoned:
		z, ok, err := c.zones.Match(s.Angle, s.Distance)
		if err != nil {
			// hold the previous level rather than guess
			err = fmt.Errorf("match zone: %w", err)
		} else if ok {
			if z.Volume != c.lastZoned {
				monitoring.Logf("entered zone %q, volume %d", z.Name, z.Volume)
			}
			c.lastZoned = z.Volume
		}
		c.level = c.lastZoned
		return c.level, errors.Join(err, c.apply(c.level))

	default:
		c.level = c.manual
		return c.level, nil
	}
}

// SetMode switches mode. Entering Manual applies the manual level at once;
// leaving Manual recomputes the new mode's level from what is already known
// (the last distance for Auto, the held zone level for Zoned). Switching
// between Auto and Zoned waits for the next sample.
func (c *Controller) SetMode(m Mode) error {
	if m < Auto || m > Manual {
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	prev := c.mode
	c.mode = m
	if prev != m {
		monitoring.Logf("volume mode %s -> %s", prev, m)
	}

	switch {
	case m == Manual:
		c.level = c.manual
	case prev == Manual && m == Auto:
		c.level = AutoLevel(c.lastDistance)
	case prev == Manual && m == Zoned:
		c.level = c.lastZoned
	default:
		return nil
	}
	return c.apply(c.level)
}

// SetManualVolume stores the manual level and reports it straight away. The
// mixer is only driven when in Manual mode; otherwise the next sample
// replaces the reported level.
func (c *Controller) SetManualVolume(level int) (int, error) {
	if level < 0 || level > 100 {
		return c.manual, fmt.Errorf("%w: got %d", ErrLevelRange, level)
	}
	c.manual = level
	c.level = level
	if c.mode != Manual {
		return level, nil
	}
	return level, c.apply(level)
}

// Level is the level to report. In Manual mode it is always the manual
// level.
func (c *Controller) Level() int {
	if c.mode == Manual {
		return c.manual
	}
	return c.level
}

func (c *Controller) Mode() Mode           { return c.mode }
func (c *Controller) ManualVolume() int    { return c.manual }
func (c *Controller) LastZonedVolume() int { return c.lastZoned }

func (c *Controller) apply(level int) error {
	if err := c.mixer.SetVolume(level); err != nil {
		return fmt.Errorf("set volume %d%%: %w", level, err)
	}
	return nil
}
