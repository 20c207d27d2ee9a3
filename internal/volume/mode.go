package volume

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how the output level is chosen.
type Mode int

const (
	// Auto follows the tag's distance along AutoLevel.
	Auto Mode = iota
	// Zoned applies the level of the first zone the tag is inside and holds
	// it after the tag leaves.
	Zoned
	// Manual ignores samples and plays at the manual level.
	Manual
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown volume mode")

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Zoned:
		return "zoned"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the canonical names and the legacy web UI names
// "custom" (zoned) and "custom2" (manual).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return Auto, nil
	case "zoned", "custom":
		return Zoned, nil
	case "manual", "custom2":
		return Manual, nil
	}
	return Auto, fmt.Errorf("%w %q: expected auto, zoned or manual", ErrUnknownMode, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if m < Auto || m > Manual {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
