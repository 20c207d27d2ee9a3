package tracker

import (
	"errors"
	"math"
	"strings"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
	"github.com/banshee-data/uwb.follow/internal/servo"
	"github.com/banshee-data/uwb.follow/internal/volume"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

// SetTracking enables or disables automatic servo moves.
func (t *Tracker) SetTracking(enabled bool) bool {
	applied := t.servo.SetTracking(enabled)
	t.mu.Lock()
	t.publishLocked()
	t.mu.Unlock()
	return applied
}

// SetServoAngle moves the servo directly. Angles outside the mechanical
// range are rejected; the move blocks for the manual settle time.
func (t *Tracker) SetServoAngle(angle float64) (float64, error) {
	if math.IsNaN(angle) || angle < servo.MinAngle || angle > servo.MaxAngle {
		return 0, invalid("angle", "must be between %g and %g", servo.MinAngle, servo.MaxAngle)
	}
	applied, err := t.servo.SetManual(angle)
	t.mu.Lock()
	t.publishLocked()
	t.mu.Unlock()
	return applied, err
}

// SetMode switches the volume mode by name.
func (t *Tracker) SetMode(name string) (volume.Mode, error) {
	m, err := volume.ParseMode(name)
	if err != nil {
		return 0, invalid("mode", "%q is not one of auto, zoned, manual", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.vol.SetMode(m); err != nil {
		// the mode is applied even if the mixer refused the new level
		t.actuatorErrors++
		monitoring.Logf("volume: %v", err)
	}
	t.publishLocked()
	return m, nil
}

// SetManualVolume sets the manual level (0-100).
func (t *Tracker) SetManualVolume(level int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	applied, err := t.vol.SetManualVolume(level)
	if errors.Is(err, volume.ErrLevelRange) {
		return 0, invalid("volume", "must be between 0 and 100")
	}
	if err != nil {
		t.actuatorErrors++
		monitoring.Logf("volume: %v", err)
	}
	t.publishLocked()
	monitoring.Logf("manual volume set to %d%%", applied)
	return applied, nil
}

// AddZone validates and stores a zone.
func (t *Tracker) AddZone(z zones.Zone) (zones.Zone, error) {
	z.Name = strings.TrimSpace(z.Name)
	if err := z.Validate(); err != nil {
		return zones.Zone{}, &ValidationError{Field: "zone", Msg: err.Error()}
	}
	// held under mu so a sample never matches against a half-written list
	t.mu.Lock()
	defer t.mu.Unlock()
	created, err := t.zones.Add(z)
	if err != nil {
		return zones.Zone{}, err
	}
	monitoring.Logf("added zone %q at %g°, %.2f m, volume %d", created.Name, created.Angle, created.Distance, created.Volume)
	return created, nil
}

// RemoveZone deletes every zone named name. Unknown names are not an error.
func (t *Tracker) RemoveZone(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.zones.Remove(name); err != nil {
		return err
	}
	monitoring.Logf("removed zone %q", name)
	return nil
}

// Zones lists zones in insertion order.
func (t *Tracker) Zones() ([]zones.Zone, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.zones.List()
}
