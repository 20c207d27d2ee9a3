package uwb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// DistanceCalibration is the hardware calibration constant K, in metres,
// used by the tag's distance encoding.
const DistanceCalibration = 0.3

// Sign marker values for bytes 6..8.
const (
	SignMarkerHigh byte = 0xFF
	SignMarkerZero byte = 0x00
)

// ErrBadSignMarker is returned when bytes 6..8 are neither all 0xFF nor all
// 0x00. The frame carries no usable bearing and must be dropped.
var ErrBadSignMarker = errors.New("uwb: unrecognised angle sign marker")

// DecodedSample is one successfully decoded ranging/bearing report.
type DecodedSample struct {
	Address    uint16    `json:"address"`
	Angle      float64   `json:"angle"`    // degrees, signed
	Distance   float64   `json:"distance"` // metres
	CapturedAt time.Time `json:"captured_at"`
}

// AddressHex formats the tag address the way the web UI displays it.
func (s DecodedSample) AddressHex() string {
	return fmt.Sprintf("0x%x", s.Address)
}

func (s DecodedSample) String() string {
	return fmt.Sprintf("address: 0x%04X | angle: %g° | distance: %.2f m", s.Address, s.Angle, s.Distance)
}

// Decode extracts the address, bearing and range from a frame. It is pure:
// the only input besides the frame is the capture timestamp to stamp on
// the result.
//
// The bearing sign rule is asymmetric on purpose. An all-0xFF marker gives
// 255-raw while an all-0x00 marker gives -raw; this matches what the tag
// firmware emits and must not be "simplified" without checking the device.
func Decode(f RawFrame, at time.Time) (DecodedSample, error) {
	rawAngle := float64(f[offsetAngle])

	var angle float64
	switch {
	case signMarkerIs(f, SignMarkerHigh):
		angle = 255 - rawAngle
	case signMarkerIs(f, SignMarkerZero):
		angle = -rawAngle
	default:
		return DecodedSample{}, fmt.Errorf("%w: % x", ErrBadSignMarker, f[offsetSign:offsetSign+3])
	}

	rawDistance := binary.LittleEndian.Uint32(f[offsetDistance : offsetDistance+4])

	return DecodedSample{
		Address:    binary.BigEndian.Uint16(f[offsetAddress : offsetAddress+2]),
		Angle:      angle,
		Distance:   RealDistance(rawDistance),
		CapturedAt: at,
	}, nil
}

// RealDistance converts the tag's raw 32-bit range into metres:
// (K / 2π) * (raw / 2π).
func RealDistance(raw uint32) float64 {
	return (DistanceCalibration / (2 * math.Pi)) * (float64(raw) / (2 * math.Pi))
}

func signMarkerIs(f RawFrame, b byte) bool {
	return f[offsetSign] == b && f[offsetSign+1] == b && f[offsetSign+2] == b
}

// BuildFrame assembles a bounded frame from field values. The uninterpreted
// bytes are left zero. Used by the dev-mode fixture generator and tests.
func BuildFrame(address uint16, rawAngle byte, signMarker byte, rawDistance uint32) RawFrame {
	var f RawFrame
	f[0] = StartMarker
	binary.BigEndian.PutUint16(f[offsetAddress:], address)
	f[offsetAngle] = rawAngle
	f[offsetSign] = signMarker
	f[offsetSign+1] = signMarker
	f[offsetSign+2] = signMarker
	binary.LittleEndian.PutUint32(f[offsetDistance:], rawDistance)
	f[FrameLen-1] = EndMarker
	return f
}

// RawDistanceFor is the inverse of RealDistance, rounded to the nearest raw
// unit.
func RawDistanceFor(metres float64) uint32 {
	return uint32(math.Round(metres * (2 * math.Pi) * (2 * math.Pi) / DistanceCalibration))
}
