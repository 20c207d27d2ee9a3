package servo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/uwb.follow/internal/fsutil"
)

func TestOpenSysfsPWM_ExportsAndEnables(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.Mkdir("/sys/class/pwm/pwmchip0")

	p, err := OpenSysfsPWM(fs, "", 0, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/sys/class/pwm/pwmchip0/export=1",
		"/sys/class/pwm/pwmchip0/pwm1/duty_cycle=0",
		"/sys/class/pwm/pwmchip0/pwm1/period=20000000",
		"/sys/class/pwm/pwmchip0/pwm1/enable=1",
	}, fs.Writes())

	require.NoError(t, p.SetDuty(7.5))
	data, err := fs.ReadFile("/sys/class/pwm/pwmchip0/pwm1/duty_cycle")
	require.NoError(t, err)
	assert.Equal(t, "1500000\n", string(data))
}

func TestOpenSysfsPWM_AlreadyExported(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.Mkdir("/pwm/pwmchip2")
	fs.Mkdir("/pwm/pwmchip2/pwm0")

	_, err := OpenSysfsPWM(fs, "/pwm", 2, 0, 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotContains(t, fs.Writes(), "/pwm/pwmchip2/export=0")
	assert.Contains(t, fs.Writes(), "/pwm/pwmchip2/pwm0/period=10000000")
}

func TestOpenSysfsPWM_MissingChip(t *testing.T) {
	_, err := OpenSysfsPWM(fsutil.NewMemoryFileSystem(), "", 0, 0, 0)
	assert.Error(t, err)
}

func TestSysfsPWM_SetDutyRange(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.Mkdir("/sys/class/pwm/pwmchip0")
	p, err := OpenSysfsPWM(fs, "", 0, 0, 0)
	require.NoError(t, err)

	assert.Error(t, p.SetDuty(-1))
	assert.Error(t, p.SetDuty(101))
}

func TestSysfsPWM_Close(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	fs.Mkdir("/sys/class/pwm/pwmchip0")
	p, err := OpenSysfsPWM(fs, "", 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	w := fs.Writes()
	assert.Equal(t, []string{
		"/sys/class/pwm/pwmchip0/pwm0/duty_cycle=0",
		"/sys/class/pwm/pwmchip0/pwm0/enable=0",
		"/sys/class/pwm/pwmchip0/unexport=0",
	}, w[len(w)-3:])
}

func TestLogDriver(t *testing.T) {
	var d Driver = LogDriver{}
	assert.NoError(t, d.SetDuty(7.5))
	assert.NoError(t, d.SetDuty(0))
}
