// Package zones holds the named spatial triggers used by zoned volume mode.
package zones

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Zone is a named point in (bearing, range) space with the output level to
// apply while the tag is inside its tolerance window.
type Zone struct {
	ID       string  `json:"-"`
	Name     string  `json:"name"`
	Angle    float64 `json:"angle"`    // degrees, tag bearing
	Distance float64 `json:"distance"` // metres
	Volume   int     `json:"volume"`   // 0-100
}

// Validation errors.
var (
	ErrEmptyName      = errors.New("zone name must not be empty")
	ErrVolumeRange    = errors.New("zone volume must be between 0 and 100")
	ErrDistanceRange  = errors.New("zone distance must be a non-negative number")
	ErrAngleNotFinite = errors.New("zone angle must be a finite number")
)

// Validate checks a zone at the repository boundary. It does not check for
// duplicate names: several zones may share a name and the first one listed
// wins a match.
func (z Zone) Validate() error {
	switch {
	case strings.TrimSpace(z.Name) == "":
		return ErrEmptyName
	case z.Volume < 0 || z.Volume > 100:
		return fmt.Errorf("%w: got %d", ErrVolumeRange, z.Volume)
	case math.IsNaN(z.Distance) || math.IsInf(z.Distance, 0) || z.Distance < 0:
		return ErrDistanceRange
	case math.IsNaN(z.Angle) || math.IsInf(z.Angle, 0):
		return ErrAngleNotFinite
	}
	return nil
}

// Tolerance is the half-width of a zone's matching window.
type Tolerance struct {
	Angle    float64 `json:"angle" toml:"angle"`
	Distance float64 `json:"distance" toml:"distance"`
}

// DefaultTolerance is ±5° and ±0.1 m.
var DefaultTolerance = Tolerance{Angle: 5, Distance: 0.1}

// Contains reports whether a sample at (angle, distance) falls inside z's
// window. Both bounds are inclusive.
func (t Tolerance) Contains(z Zone, angle, distance float64) bool {
	return math.Abs(z.Angle-angle) <= t.Angle && math.Abs(z.Distance-distance) <= t.Distance
}

// FirstMatch returns the first zone in list order containing the sample.
// It is not the closest match.
func FirstMatch(zs []Zone, t Tolerance, angle, distance float64) (Zone, bool) {
	for _, z := range zs {
		if t.Contains(z, angle, distance) {
			return z, true
		}
	}
	return Zone{}, false
}

// Repository stores zones in insertion order.
type Repository interface {
	// Add validates and appends z, returning the stored record.
	Add(z Zone) (Zone, error)
	// Remove deletes every zone named name. Removing an unknown name is not
	// an error.
	Remove(name string) error
	// List returns all zones in insertion order.
	List() ([]Zone, error)
	// Match returns the first zone whose window contains the sample.
	Match(angle, distance float64) (Zone, bool, error)
}
