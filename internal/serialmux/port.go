package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for the UWB serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.Reader
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// go.bug.st/serial ports implement it; a read that times out returns (0, nil).
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// BufferResetter is implemented by ports that can discard data buffered by
// the OS driver.
type BufferResetter interface {
	ResetInputBuffer() error
	ResetOutputBuffer() error
}
