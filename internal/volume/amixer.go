package volume

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/banshee-data/uwb.follow/internal/monitoring"
)

var commandContext = exec.CommandContext

// DefaultControl is the ALSA simple mixer control driven by default.
const DefaultControl = "Master"

const amixerTimeout = 2 * time.Second

// AmixerOption configures an AmixerMixer.
type AmixerOption func(*AmixerMixer)

// WithCard selects the ALSA card (amixer -c).
func WithCard(card string) AmixerOption {
	return func(m *AmixerMixer) {
		m.card = strings.TrimSpace(card)
	}
}

// WithControl overrides the mixer control name.
func WithControl(control string) AmixerOption {
	return func(m *AmixerMixer) {
		if control != "" {
			m.control = control
		}
	}
}

// WithBinary overrides the amixer binary.
func WithBinary(binary string) AmixerOption {
	return func(m *AmixerMixer) {
		if binary != "" {
			m.binary = binary
		}
	}
}

// AmixerMixer sets the output level with alsa-utils' amixer.
type AmixerMixer struct {
	binary  string
	card    string
	control string
}

func NewAmixerMixer(opts ...AmixerOption) *AmixerMixer {
	m := &AmixerMixer{binary: "amixer", control: DefaultControl}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Args returns the amixer arguments used to set level.
func (m *AmixerMixer) Args(level int) []string {
	var args []string
	if m.card != "" {
		args = append(args, "-c", m.card)
	}
	return append(args, "-q", "set", m.control, fmt.Sprintf("%d%%", level))
}

func (m *AmixerMixer) SetVolume(level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: got %d", ErrLevelRange, level)
	}
	ctx, cancel := context.WithTimeout(context.Background(), amixerTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := commandContext(ctx, m.binary, m.Args(level)...) //nolint:gosec
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", m.binary, err, msg)
		}
		return fmt.Errorf("%s: %w", m.binary, err)
	}
	return nil
}

// LogMixer stands in for the sound card in dev mode and when audio is
// disabled.
type LogMixer struct{}

func (LogMixer) SetVolume(level int) error {
	monitoring.Debugf("volume %d%%", level)
	return nil
}
