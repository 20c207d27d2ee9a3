package serialmux

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds each blocking read so the monitor loop can notice
// shutdown promptly.
const DefaultReadTimeout = 100 * time.Millisecond

// NewRealSerialMux opens the UWB serial port at path and returns a SerialMux
// reading frames from it. A failure here is fatal to the caller: there is no
// retry.
func NewRealSerialMux(path string, opts PortOptions, readTimeout time.Duration) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}

	m := NewSerialMux[serial.Port](port)
	m.errorPause = readTimeout
	return m, nil
}
