// Package config loads the uwbfollow TOML configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/uwb.follow/internal/serialmux"
	"github.com/banshee-data/uwb.follow/internal/zones"
)

//go:embed sample_config.toml
var sampleConfig string

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "uwbfollow.toml"

// Serial configures the UWB UART.
type Serial struct {
	Port        string `toml:"port"`
	BaudRate    int    `toml:"baud_rate"`
	DataBits    int    `toml:"data_bits"`
	StopBits    int    `toml:"stop_bits"`
	Parity      string `toml:"parity"`
	ReadTimeout string `toml:"read_timeout"` // duration string like "100ms"
}

// Server configures the HTTP control surface.
type Server struct {
	Listen        string `toml:"listen"`
	AllowedOrigin string `toml:"allowed_origin"`
}

// Storage configures the sqlite database and the legacy zone file.
type Storage struct {
	DBPath          string `toml:"db_path"`
	PositionsFile   string `toml:"positions_file"`
	RecordSamples   bool   `toml:"record_samples"`
	SampleRetention string `toml:"sample_retention"` // duration string like "24h"
}

// Servo configures the PWM output and the positioner.
type Servo struct {
	Disabled      bool    `toml:"disabled"`
	PWMRoot       string  `toml:"pwm_root"`
	PWMChip       int     `toml:"pwm_chip"`
	PWMChannel    int     `toml:"pwm_channel"`
	Period        string  `toml:"period"`
	CenterAngle   float64 `toml:"center_angle"`
	MinAngle      float64 `toml:"min_angle"`
	MaxAngle      float64 `toml:"max_angle"`
	Tolerance     float64 `toml:"tolerance"`
	TrackSettle   string  `toml:"track_settle"`
	ManualSettle  string  `toml:"manual_settle"`
	StartupSettle string  `toml:"startup_settle"`
}

// Volume configures the mixer and the starting levels.
type Volume struct {
	Disabled      bool   `toml:"disabled"`
	Binary        string `toml:"binary"`
	Card          string `toml:"card"`
	Control       string `toml:"control"`
	InitialManual int    `toml:"initial_manual"`
	InitialZoned  int    `toml:"initial_zoned"`
}

// Tracking configures staleness and zone matching.
type Tracking struct {
	StaleAfter            string  `toml:"stale_after"`
	ZoneAngleTolerance    float64 `toml:"zone_angle_tolerance"`
	ZoneDistanceTolerance float64 `toml:"zone_distance_tolerance"`
}

// Config holds every setting of the uwbfollow process.
type Config struct {
	Serial   Serial   `toml:"serial"`
	Server   Server   `toml:"server"`
	Storage  Storage  `toml:"storage"`
	Servo    Servo    `toml:"servo"`
	Volume   Volume   `toml:"volume"`
	Tracking Tracking `toml:"tracking"`
}

// Default returns the built-in configuration. Every field is set, so a
// missing file or section falls back to these values.
func Default() Config {
	return Config{
		Serial: Serial{
			Port:        "/dev/ttyS0",
			BaudRate:    serialmux.DefaultBaudRate,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			ReadTimeout: "100ms",
		},
		Server: Server{
			Listen:        ":5000",
			AllowedOrigin: "*",
		},
		Storage: Storage{
			DBPath:          "uwbfollow.db",
			PositionsFile:   "positions.json",
			SampleRetention: "24h",
		},
		Servo: Servo{
			PWMRoot:       "/sys/class/pwm",
			Period:        "20ms",
			CenterAngle:   90,
			MinAngle:      30,
			MaxAngle:      150,
			Tolerance:     5,
			TrackSettle:   "200ms",
			ManualSettle:  "700ms",
			StartupSettle: "500ms",
		},
		Volume: Volume{
			Binary:        "amixer",
			Control:       "Master",
			InitialManual: 60,
			InitialZoned:  60,
		},
		Tracking: Tracking{
			StaleAfter:            "500ms",
			ZoneAngleTolerance:    zones.DefaultTolerance.Angle,
			ZoneDistanceTolerance: zones.DefaultTolerance.Distance,
		},
	}
}

// Load reads path over the defaults, normalises and validates the result.
// A missing file is not an error: the defaults are returned and exists is
// false.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	exists := false
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			exists = true
			decoder := toml.NewDecoder(file).DisallowUnknownFields()
			if err := decoder.Decode(&cfg); err != nil {
				return nil, false, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, exists, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, exists, err
	}
	return &cfg, exists, nil
}

func (c *Config) normalize() error {
	c.Serial.Port = strings.TrimSpace(c.Serial.Port)
	c.Server.Listen = strings.TrimSpace(c.Server.Listen)
	c.Volume.Control = strings.TrimSpace(c.Volume.Control)
	c.Volume.Card = strings.TrimSpace(c.Volume.Card)

	opts, err := c.Serial.PortOptions().Normalise()
	if err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	c.Serial.BaudRate = opts.BaudRate
	c.Serial.DataBits = opts.DataBits
	c.Serial.StopBits = opts.StopBits
	c.Serial.Parity = opts.Parity
	return nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return errors.New("serial.port must be set")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen must be set")
	}
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path must be set")
	}

	durations := []struct{ name, value string }{
		{"serial.read_timeout", c.Serial.ReadTimeout},
		{"storage.sample_retention", c.Storage.SampleRetention},
		{"servo.period", c.Servo.Period},
		{"servo.track_settle", c.Servo.TrackSettle},
		{"servo.manual_settle", c.Servo.ManualSettle},
		{"servo.startup_settle", c.Servo.StartupSettle},
		{"tracking.stale_after", c.Tracking.StaleAfter},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, d.value)
		}
	}

	s := c.Servo
	for _, a := range []float64{s.MinAngle, s.CenterAngle, s.MaxAngle} {
		if math.IsNaN(a) || a < 0 || a > 180 {
			return fmt.Errorf("servo angles must be between 0 and 180, got %g", a)
		}
	}
	if !(s.MinAngle <= s.CenterAngle && s.CenterAngle <= s.MaxAngle) || s.MinAngle == s.MaxAngle {
		return fmt.Errorf("servo angles must satisfy min < max with center between them, got min=%g center=%g max=%g",
			s.MinAngle, s.CenterAngle, s.MaxAngle)
	}
	if s.Tolerance < 0 {
		return fmt.Errorf("servo.tolerance must be non-negative, got %g", s.Tolerance)
	}
	if s.PWMChip < 0 || s.PWMChannel < 0 {
		return fmt.Errorf("servo.pwm_chip and servo.pwm_channel must be non-negative")
	}

	for name, v := range map[string]int{
		"volume.initial_manual": c.Volume.InitialManual,
		"volume.initial_zoned":  c.Volume.InitialZoned,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, v)
		}
	}
	if c.Volume.Control == "" {
		return errors.New("volume.control must be set")
	}

	if c.Tracking.ZoneAngleTolerance < 0 || c.Tracking.ZoneDistanceTolerance < 0 {
		return errors.New("tracking zone tolerances must be non-negative")
	}
	return nil
}

// PortOptions returns the serial line settings.
func (s Serial) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		StopBits: s.StopBits,
		Parity:   s.Parity,
	}
}

// GetReadTimeout parses ReadTimeout.
func (s Serial) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, serialmux.DefaultReadTimeout)
}

// GetSampleRetention parses SampleRetention. Zero disables pruning.
func (s Storage) GetSampleRetention() time.Duration {
	return parseDuration(s.SampleRetention, 0)
}

// GetPeriod parses Period.
func (s Servo) GetPeriod() time.Duration {
	return parseDuration(s.Period, 20*time.Millisecond)
}

// GetTrackSettle parses TrackSettle.
func (s Servo) GetTrackSettle() time.Duration {
	return parseDuration(s.TrackSettle, 200*time.Millisecond)
}

// GetManualSettle parses ManualSettle.
func (s Servo) GetManualSettle() time.Duration {
	return parseDuration(s.ManualSettle, 700*time.Millisecond)
}

// GetStartupSettle parses StartupSettle.
func (s Servo) GetStartupSettle() time.Duration {
	return parseDuration(s.StartupSettle, 500*time.Millisecond)
}

// GetStaleAfter parses StaleAfter.
func (t Tracking) GetStaleAfter() time.Duration {
	return parseDuration(t.StaleAfter, 500*time.Millisecond)
}

// ZoneTolerance returns the zone match window.
func (t Tracking) ZoneTolerance() zones.Tolerance {
	return zones.Tolerance{Angle: t.ZoneAngleTolerance, Distance: t.ZoneDistanceTolerance}
}

// parseDuration returns def for an empty or unparseable value.
func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
