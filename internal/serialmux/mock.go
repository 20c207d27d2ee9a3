package serialmux

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockSerialPort implements SerialPorter for testing and dev mode.
type MockSerialPort struct {
	mu sync.Mutex

	ReadData  []byte
	ReadError error
	// ReadDelay is slept before every read that returns data.
	ReadDelay time.Duration
	// ChunkSize limits how many bytes one Read returns; 0 means no limit.
	ChunkSize int
	// Replay rewinds to the start of the original data instead of
	// returning io.EOF.
	Replay bool

	CloseError error
	Closed     bool

	ReadCallCount    int
	InputResetCount  int
	OutputResetCount int
	original         []byte
	originalCaptured bool
}

func (m *MockSerialPort) Read(p []byte) (n int, err error) {
	m.mu.Lock()
	if !m.originalCaptured {
		m.original = append([]byte(nil), m.ReadData...)
		m.originalCaptured = true
	}
	m.ReadCallCount++
	if m.Closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.mu.Unlock()
		return 0, err
	}
	if len(m.ReadData) == 0 {
		if !m.Replay || len(m.original) == 0 {
			m.mu.Unlock()
			return 0, io.EOF
		}
		m.ReadData = append([]byte(nil), m.original...)
	}
	limit := len(p)
	if m.ChunkSize > 0 && m.ChunkSize < limit {
		limit = m.ChunkSize
	}
	n = copy(p[:limit], m.ReadData)
	m.ReadData = m.ReadData[n:]
	delay := m.ReadDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return n, nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseError
}

func (m *MockSerialPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

func (m *MockSerialPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InputResetCount++
	return nil
}

func (m *MockSerialPort) ResetOutputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutputResetCount++
	return nil
}

// NewMockSerialMux creates a SerialMux instance backed by a mock serial port
func NewMockSerialMux(mockData []byte) *SerialMux[*MockSerialPort] {
	mockPort := &MockSerialPort{
		ReadData: mockData,
	}
	return NewSerialMux[*MockSerialPort](mockPort)
}

// NewReplaySerialMux loops mockData forever, pacing reads by interval. Used
// by dev mode to stand in for the tag.
func NewReplaySerialMux(mockData []byte, chunk int, interval time.Duration) *SerialMux[*MockSerialPort] {
	mockPort := &MockSerialPort{
		ReadData:  mockData,
		ChunkSize: chunk,
		ReadDelay: interval,
		Replay:    true,
	}
	return NewSerialMux[*MockSerialPort](mockPort)
}

// ParseHexFixture decodes a fixture file of hex-encoded bytes. Blank lines
// and lines starting with '#' are ignored; whitespace inside a line is
// allowed so frames can be laid out by field.
func ParseHexFixture(data []byte) ([]byte, error) {
	var out []byte
	scan := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.Join(strings.Fields(text), "")
		b, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		out = append(out, b...)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
