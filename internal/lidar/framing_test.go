package lidar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramingState_DetectsWrap(t *testing.T) {
	f := NewFramingState(0, DefaultWrapTolerance)
	assert.Equal(t, PhaseAccumulating, f.Phase())

	assert.False(t, f.Observe(35800))
	assert.False(t, f.Observe(35990))
	assert.True(t, f.Observe(20))
	assert.Equal(t, PhaseBoundaryCrossed, f.Phase())

	// The phase holds until cleared; later azimuths do not cross again.
	assert.False(t, f.Observe(200))
	assert.Equal(t, PhaseBoundaryCrossed, f.Phase())
	f.Clear()
	assert.Equal(t, PhaseAccumulating, f.Phase())
}

func TestFramingState_Tolerance(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur uint16
		tolerance uint16
		want      bool
	}{
		{"equal", 5000, 5000, 100, false},
		{"forward", 5000, 5100, 100, false},
		{"drop within tolerance", 5000, 4900, 100, false},
		{"drop beyond tolerance", 5000, 4899, 100, true},
		{"zero tolerance", 5000, 4999, 0, true},
		{"wrap", 35999, 0, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramingState(0, tt.tolerance)
			f.Observe(tt.prev)
			assert.Equal(t, tt.want, f.Observe(tt.cur))
		})
	}
}

func TestFramingState_SplitAzimuth(t *testing.T) {
	f := NewFramingState(9000, DefaultWrapTolerance)
	assert.False(t, f.Observe(35900))
	assert.False(t, f.Observe(100), "0 is not the boundary when splitting at 90 degrees")
	assert.False(t, f.Observe(8950))
	assert.True(t, f.Observe(9050))
}

func TestFramingState_SplitAzimuthNormalised(t *testing.T) {
	f := NewFramingState(36000+500, DefaultWrapTolerance)
	assert.Equal(t, uint16(500), f.SplitAzimuth)
}

func TestFramingState_FrozenAzimuthNeverCrosses(t *testing.T) {
	f := NewFramingState(0, DefaultWrapTolerance)
	for i := 0; i < 1000; i++ {
		assert.False(t, f.Observe(12345))
	}
}

func TestFramingState_Reset(t *testing.T) {
	f := NewFramingState(0, DefaultWrapTolerance)
	f.Observe(30000)
	f.Observe(10)
	f.Reset()
	assert.Equal(t, PhaseAccumulating, f.Phase())
	// The first azimuth after a reset has nothing to compare against.
	assert.False(t, f.Observe(0))
}

func TestFramePhase_String(t *testing.T) {
	assert.Equal(t, "accumulating", PhaseAccumulating.String())
	assert.Equal(t, "boundary-crossed", PhaseBoundaryCrossed.String())
}
