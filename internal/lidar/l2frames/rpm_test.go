package l2frames

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// spin feeds n samples of a sensor turning at rpm, one every interval.
func spin(e *RPMEstimator, start uint16, startTime time.Duration, n int, rpm float64, interval time.Duration) {
	unitsPerSecond := rpm / 60 * 36000
	for i := 0; i < n; i++ {
		ts := startTime + time.Duration(i)*interval
		az := float64(start) + unitsPerSecond*(ts-startTime).Seconds()
		e.Observe(uint16(int(az+0.5)%36000), ts)
	}
}

func TestRPMEstimator_ConstantSpin(t *testing.T) {
	for _, rpm := range []float64{300, 600, 1200} {
		e := NewRPMEstimator(0, 0)
		spin(e, 35000, 0, 200, rpm, 1327*time.Microsecond)
		assert.True(t, e.Stable())
		assert.InEpsilon(t, rpm, e.RPM(), 0.01, "rpm %v", rpm)
	}
}

func TestRPMEstimator_NeedsThreeSamples(t *testing.T) {
	e := NewRPMEstimator(8, 0)
	e.Observe(0, 0)
	e.Observe(360, time.Millisecond)
	assert.False(t, e.Stable())
	assert.Zero(t, e.RPM())
	e.Observe(720, 2*time.Millisecond)
	assert.True(t, e.Stable())
	assert.InEpsilon(t, 600, e.RPM(), 1e-6)
}

func TestRPMEstimator_GapKeepsLastEstimate(t *testing.T) {
	e := NewRPMEstimator(16, 50*time.Millisecond)
	spin(e, 0, 0, 40, 600, time.Millisecond)
	before := e.RPM()

	// After a long gap the azimuth delta says nothing about the spin rate.
	got := e.Observe(18000, 2*time.Second)
	assert.Equal(t, before, got)

	// Time running backwards is treated the same way.
	got = e.Observe(100, time.Second)
	assert.Equal(t, before, got)

	spin(e, 100, time.Second, 40, 1200, time.Millisecond)
	assert.InEpsilon(t, 1200, e.RPM(), 0.01)
}

func TestRPMEstimator_GapOverHalfTurn(t *testing.T) {
	e := NewRPMEstimator(0, 0)
	spin(e, 0, 0, 40, 600, time.Millisecond)
	assert.InEpsilon(t, 600, e.RPM(), 0.01)

	// 61 ms at 600 rpm is 0.61 turns, inside the default max gap.
	unitsPerMs := 600.0 / 60 * 36000 / 1000
	for i := 0; i < 10; i++ {
		ms := 100 + i
		az := uint16(int(float64(ms)*unitsPerMs) % 36000)
		got := e.Observe(az, time.Duration(ms)*time.Millisecond)
		assert.InEpsilon(t, 600, got, 0.01, "sample %d after gap", i)
		assert.False(t, e.Stalled(60), "sample %d after gap", i)
	}
}

func TestRPMEstimator_Stalled(t *testing.T) {
	e := NewRPMEstimator(0, 0)
	assert.False(t, e.Stalled(60), "no estimate yet")

	for i := 0; i < 10; i++ {
		e.Observe(4200, time.Duration(i)*time.Millisecond)
	}
	assert.True(t, e.Stalled(60))
	assert.False(t, e.Stalled(0))

	e.Reset()
	assert.False(t, e.Stable())
	spin(e, 0, 0, 10, 600, time.Millisecond)
	assert.False(t, e.Stalled(60))
}

func TestRPMEstimator_Unwraps(t *testing.T) {
	e := NewRPMEstimator(0, 0)
	// 600 rpm straddling the 35999 -> 0 wrap.
	spin(e, 35500, 0, 5, 600, time.Millisecond)
	assert.InEpsilon(t, 600, e.RPM(), 0.01)
}
