package lidar

import "time"

// DefaultWrapTolerance is the azimuth drop, in hundredths of a degree, that
// must be exceeded before a decrease counts as a rotation wrap. Smaller
// drops are treated as jitter.
const DefaultWrapTolerance = 100

// FramePhase is the state of a FramingState.
type FramePhase int

const (
	PhaseAccumulating FramePhase = iota
	PhaseBoundaryCrossed
)

func (p FramePhase) String() string {
	if p == PhaseBoundaryCrossed {
		return "boundary-crossed"
	}
	return "accumulating"
}

// FramingState detects rotation boundaries from the sequence of firing
// block azimuths. Azimuths are rotated by SplitAzimuth before comparison so
// that the boundary falls at the configured angle instead of at 0.
type FramingState struct {
	SplitAzimuth  uint16
	WrapTolerance uint16

	last  uint16
	seen  bool
	phase FramePhase
}

// NewFramingState returns a state splitting at splitAzimuth.
func NewFramingState(splitAzimuth, tolerance uint16) FramingState {
	return FramingState{
		SplitAzimuth:  splitAzimuth % AzimuthUnits,
		WrapTolerance: tolerance,
	}
}

// Observe feeds one azimuth and reports whether it crossed the boundary.
// A crossing moves the state to PhaseBoundaryCrossed until Clear is called.
// An unchanged azimuth never crosses.
func (f *FramingState) Observe(azimuth uint16) bool {
	cur := f.rotate(azimuth)
	if !f.seen {
		f.seen = true
		f.last = cur
		return false
	}

	prev := f.last
	f.last = cur
	if int(cur)+int(f.WrapTolerance) < int(prev) {
		f.phase = PhaseBoundaryCrossed
		return true
	}
	return false
}

func (f *FramingState) rotate(azimuth uint16) uint16 {
	a := int(azimuth%AzimuthUnits) - int(f.SplitAzimuth)
	if a < 0 {
		a += AzimuthUnits
	}
	return uint16(a)
}

// Phase returns the current phase.
func (f *FramingState) Phase() FramePhase { return f.phase }

// Clear returns the state to PhaseAccumulating, keeping the last azimuth.
func (f *FramingState) Clear() { f.phase = PhaseAccumulating }

// Reset forgets all history.
func (f *FramingState) Reset() {
	f.seen = false
	f.last = 0
	f.phase = PhaseAccumulating
}

// PacketInfo is the per-packet metadata the decoder hands to its output
// before any firing block of the packet.
type PacketInfo struct {
	Timestamp  time.Duration // packet time, hour-rollover adjusted
	RawTime    uint32        // time-of-hour, microseconds
	Azimuth    uint16        // azimuth of the first firing block
	Model      SensorModel   // resolved from the packet layout and factory bytes
	ReturnMode ReturnMode
	Dual       bool
	Factory1   uint8
	Factory2   uint8
	Lasers     int // laser count of the active calibration, 0 while unavailable
}
