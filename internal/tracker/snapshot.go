package tracker

import (
	"time"

	"github.com/banshee-data/uwb.follow/internal/volume"
)

// NotConnected is the address reported before the first sample.
const NotConnected = "Not connected"

// Snapshot is the read model served to the control surface. It always
// reflects a fully applied sample or command.
type Snapshot struct {
	Address      string      `json:"address"`
	Angle        float64     `json:"angle"`
	Distance     float64     `json:"distance"`
	Volume       int         `json:"volume"`
	Mode         volume.Mode `json:"mode"`
	ServoAngle   float64     `json:"servo_angle"`
	AutoTracking bool        `json:"auto_tracking"`
	ManualVolume int         `json:"manual_volume"`
	CapturedAt   *time.Time  `json:"captured_at,omitempty"`
	Stale        bool        `json:"stale"`
}

// Stats are counters and distance statistics for the /stats route.
type Stats struct {
	Samples        uint64       `json:"samples"`
	DecodeFailures uint64       `json:"decode_failures"`
	ServoMoves     uint64       `json:"servo_moves"`
	ActuatorErrors uint64       `json:"actuator_errors"`
	LastSampleAge  string       `json:"last_sample_age"`
	Stale          bool         `json:"stale"`
	History        HistoryStats `json:"history"`
}
