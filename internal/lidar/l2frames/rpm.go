package l2frames

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// RPM estimation defaults.
const (
	DefaultRPMWindow = 32
	DefaultRPMMaxGap = 100 * time.Millisecond
	minRPMSamples    = 3
)

// RPMEstimator estimates spin rate from per-packet (azimuth, timestamp)
// samples. The estimate is the least-squares slope of unwrapped azimuth
// against time over a rolling window. A timestamp gap larger than MaxGap or
// longer than half a turn at the current rate, or time running backwards,
// restarts the window; the last stable estimate is kept until the new
// window has enough samples.
type RPMEstimator struct {
	window int
	maxGap time.Duration

	azimuths []float64 // unwrapped, hundredths of a degree
	times    []float64 // seconds since base
	base     time.Duration

	lastAzimuth uint16
	lastTime    time.Duration
	unwrapped   float64
	started     bool

	rpm    float64
	stable bool
}

// NewRPMEstimator returns an estimator; zero arguments select defaults.
func NewRPMEstimator(window int, maxGap time.Duration) *RPMEstimator {
	if window < minRPMSamples {
		window = DefaultRPMWindow
	}
	if maxGap <= 0 {
		maxGap = DefaultRPMMaxGap
	}
	return &RPMEstimator{
		window:   window,
		maxGap:   maxGap,
		azimuths: make([]float64, 0, window),
		times:    make([]float64, 0, window),
	}
}

// Observe adds a sample and returns the current estimate.
func (e *RPMEstimator) Observe(azimuth uint16, ts time.Duration) float64 {
	if !e.started {
		e.restart(azimuth, ts)
		e.started = true
		return e.rpm
	}

	dt := ts - e.lastTime
	if dt <= 0 || dt > e.maxGap {
		lidar.Diagf("rpm window restarted: dt=%v (max %v), keeping %.1f rpm", dt, e.maxGap, e.rpm)
		e.restart(azimuth, ts)
		return e.rpm
	}
	if e.beyondHalfTurn(dt) {
		lidar.Diagf("rpm window restarted: dt=%v spans over half a turn at %.1f rpm", dt, e.rpm)
		e.restart(azimuth, ts)
		return e.rpm
	}

	diff := (int(azimuth) - int(e.lastAzimuth) + lidar.AzimuthUnits) % lidar.AzimuthUnits
	if diff > lidar.AzimuthUnits/2 {
		diff -= lidar.AzimuthUnits
	}
	e.unwrapped += float64(diff)
	e.lastAzimuth = azimuth
	e.lastTime = ts

	if len(e.azimuths) == e.window {
		copy(e.azimuths, e.azimuths[1:])
		copy(e.times, e.times[1:])
		e.azimuths = e.azimuths[:e.window-1]
		e.times = e.times[:e.window-1]
	}
	e.azimuths = append(e.azimuths, e.unwrapped)
	e.times = append(e.times, (ts - e.base).Seconds())

	if len(e.azimuths) >= minRPMSamples {
		_, slope := stat.LinearRegression(e.times, e.azimuths, nil, false)
		if !math.IsNaN(slope) && !math.IsInf(slope, 0) {
			e.rpm = slope / lidar.AzimuthUnits * 60
			e.stable = true
		}
	}
	return e.rpm
}

// beyondHalfTurn reports whether, at the stable rate, the head turns more
// than half a revolution in dt. The azimuth delta of such a sample aliases
// and cannot be unwrapped.
func (e *RPMEstimator) beyondHalfTurn(dt time.Duration) bool {
	if !e.stable {
		return false
	}
	units := math.Abs(e.rpm) / 60 * lidar.AzimuthUnits * dt.Seconds()
	return units > lidar.AzimuthUnits/2
}

func (e *RPMEstimator) restart(azimuth uint16, ts time.Duration) {
	e.azimuths = e.azimuths[:0]
	e.times = e.times[:0]
	e.base = ts
	e.unwrapped = 0
	e.lastAzimuth = azimuth
	e.lastTime = ts
	e.azimuths = append(e.azimuths, 0)
	e.times = append(e.times, 0)
}

// RPM returns the latest stable estimate, 0 before the first one.
func (e *RPMEstimator) RPM() float64 { return e.rpm }

// Stable reports whether an estimate has been produced.
func (e *RPMEstimator) Stable() bool { return e.stable }

// Stalled reports whether the sensor is known to be spinning slower than
// minRPM. It is false until an estimate exists and always false when
// minRPM is not positive.
func (e *RPMEstimator) Stalled(minRPM float64) bool {
	return minRPM > 0 && e.stable && math.Abs(e.rpm) < minRPM
}

// Reset forgets all samples and the estimate.
func (e *RPMEstimator) Reset() {
	e.azimuths = e.azimuths[:0]
	e.times = e.times[:0]
	e.started = false
	e.unwrapped = 0
	e.rpm = 0
	e.stable = false
}
