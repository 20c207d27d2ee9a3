package servo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/uwb.follow/internal/fsutil"
	"github.com/banshee-data/uwb.follow/internal/monitoring"
)

// DefaultPWMRoot is where the kernel exposes PWM controllers.
const DefaultPWMRoot = "/sys/class/pwm"

// DefaultPeriod is the 50 Hz hobby-servo frame.
const DefaultPeriod = 20 * time.Millisecond

// SysfsPWM drives one channel of a kernel PWM controller through sysfs.
type SysfsPWM struct {
	fs      fsutil.FileSystem
	chipDir string
	dir     string
	channel int
	period  time.Duration

	mu sync.Mutex
}

// OpenSysfsPWM exports channel on pwmchip<chip> under root (if the kernel
// has not already), sets the period, zeroes the duty cycle and enables the
// output.
func OpenSysfsPWM(fs fsutil.FileSystem, root string, chip, channel int, period time.Duration) (*SysfsPWM, error) {
	if root == "" {
		root = DefaultPWMRoot
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	if !fs.Exists(chipDir) {
		return nil, fmt.Errorf("pwm controller %s not found", chipDir)
	}

	p := &SysfsPWM{
		fs:      fs,
		chipDir: chipDir,
		dir:     filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel)),
		channel: channel,
		period:  period,
	}

	if !fs.Exists(p.dir) {
		if err := p.write(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm channel %d: %w", channel, err)
		}
	}
	// duty_cycle must never exceed period, so zero it first.
	if err := p.write(p.attr("duty_cycle"), "0"); err != nil {
		return nil, err
	}
	if err := p.write(p.attr("period"), strconv.FormatInt(period.Nanoseconds(), 10)); err != nil {
		return nil, err
	}
	if err := p.write(p.attr("enable"), "1"); err != nil {
		return nil, err
	}
	monitoring.Logf("pwm %s ready (period %s)", p.dir, period)
	return p, nil
}

// SetDuty sets the duty cycle as a percentage of the period.
func (p *SysfsPWM) SetDuty(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("duty cycle %.2f%% out of range", percent)
	}
	ns := int64(float64(p.period.Nanoseconds()) * percent / 100)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(p.attr("duty_cycle"), strconv.FormatInt(ns, 10))
}

// Close zeroes and disables the output and unexports the channel.
func (p *SysfsPWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(p.attr("duty_cycle"), "0"); err != nil {
		return err
	}
	if err := p.write(p.attr("enable"), "0"); err != nil {
		return err
	}
	return p.write(filepath.Join(p.chipDir, "unexport"), strconv.Itoa(p.channel))
}

func (p *SysfsPWM) attr(name string) string {
	return filepath.Join(p.dir, name)
}

func (p *SysfsPWM) write(path, value string) error {
	if err := p.fs.WriteFile(path, []byte(value+"\n"), os.FileMode(0o644)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LogDriver stands in for the PWM hardware in dev mode and when the servo is
// disabled. It logs each duty change.
type LogDriver struct{}

func (LogDriver) SetDuty(percent float64) error {
	if percent == 0 {
		monitoring.Debugf("servo released")
		return nil
	}
	monitoring.Debugf("servo duty %.2f%%", percent)
	return nil
}
