package parse

import (
	"math"
	"time"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/calib"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/trig"
)

// HDL-64E S2 two-point distance correction reference distances, metres.
const (
	TWO_POINT_NEAR_X = 2.40
	TWO_POINT_NEAR_Y = 1.93
	TWO_POINT_FAR    = 25.04
)

// FiringOptions toggles the optional corrections of a FiringProcessor.
type FiringOptions struct {
	IntensityCorrection   bool
	IntraFiringAdjustment bool
}

// Firing is one raw laser return with the packet context needed to
// correct it.
type Firing struct {
	Block       int
	DSR         int // return index within the block, 0-31
	Laser       int
	Azimuth     uint16 // block azimuth
	AzimuthDiff int    // azimuth advance per firing interval
	Distance    uint16
	Intensity   uint8
	Timestamp   time.Duration // packet timestamp
	RawTime     uint32
	Family      lidar.Family
	Dual        bool
}

// FiringProcessor converts raw laser returns into calibrated points. It
// holds no per-stream state and may be shared by decoders of one stream.
type FiringProcessor struct {
	trig *trig.Table
	opts FiringOptions
}

// NewFiringProcessor returns a processor using the shared trig table.
func NewFiringProcessor(t *trig.Table, opts FiringOptions) *FiringProcessor {
	return &FiringProcessor{trig: t, opts: opts}
}

// Process applies the laser correction c to one firing. resolution is the
// distance unit in metres. The returned point has no dual-return flags.
func (fp *FiringProcessor) Process(c *calib.LaserCorrection, resolution float64, f Firing) lidar.Point {
	offsetUs := firingOffset(f.Family, f.Dual, f.Block, f.DSR)

	azimuth := int(f.Azimuth)
	if fp.opts.IntraFiringAdjustment && f.AzimuthDiff != 0 {
		rate := intraFiringRate(f.Family, f.Dual, f.Block, f.DSR)
		azimuth += int(math.Round(float64(f.AzimuthDiff) * rate))
	}
	azimuth %= lidar.AzimuthUnits
	if azimuth < 0 {
		azimuth += lidar.AzimuthUnits
	}

	// Rotational correction by angle difference: A = azimuth - rot.
	sinAz, cosAz := fp.trig.SinCos(uint16(azimuth))
	cosA := cosAz*c.CosRotational + sinAz*c.SinRotational
	sinA := sinAz*c.CosRotational - cosAz*c.SinRotational

	distance := float64(f.Distance)*resolution + c.DistanceCorrection

	var x, y, z float64
	if c.HasTwoPointDistance() {
		x, y, z = twoPointPosition(c, distance, sinA, cosA)
	} else {
		xy := distance*c.CosVertical - c.SinVerticalOffset
		x = xy*sinA - c.HorizontalOffset*cosA
		y = xy*cosA + c.HorizontalOffset*sinA
		z = distance*c.SinVertical + c.CosVerticalOffset
	}

	intensity := f.Intensity
	if fp.opts.IntensityCorrection && f.Family == lidar.FamilyHDL64 && c.HasIntensityRange() {
		intensity = correctIntensity(c, f.Intensity, f.Distance)
	}

	return lidar.Point{
		X:             x,
		Y:             y,
		Z:             z,
		Intensity:     intensity,
		LaserID:       uint8(f.Laser),
		Azimuth:       uint16(azimuth),
		DistanceRaw:   f.Distance,
		Distance:      distance,
		VerticalAngle: c.VerticalCorrection,
		Timestamp:     f.Timestamp + time.Duration(math.Round(offsetUs*float64(time.Microsecond))),
		RawTime:       f.RawTime,
		DualPair:      -1,
	}
}

// twoPointPosition applies the HDL-64E S2 distance model, in which the
// distance correction is interpolated separately along X and Y between a
// near and a far calibration distance.
func twoPointPosition(c *calib.LaserCorrection, distance, sinA, cosA float64) (x, y, z float64) {
	xy := distance*c.CosVertical - c.SinVerticalOffset
	xx := math.Abs(xy*sinA - c.HorizontalOffset*cosA)
	yy := math.Abs(xy*cosA + c.HorizontalOffset*sinA)

	corrX := (c.DistanceCorrection-c.DistanceCorrectionX)*(xx-TWO_POINT_NEAR_X)/(TWO_POINT_FAR-TWO_POINT_NEAR_X) +
		c.DistanceCorrectionX - c.DistanceCorrection
	corrY := (c.DistanceCorrection-c.DistanceCorrectionY)*(yy-TWO_POINT_NEAR_Y)/(TWO_POINT_FAR-TWO_POINT_NEAR_Y) +
		c.DistanceCorrectionY - c.DistanceCorrection

	distX := distance + corrX
	xy = distX*c.CosVertical - c.SinVerticalOffset
	x = xy*sinA - c.HorizontalOffset*cosA

	distY := distance + corrY
	xy = distY*c.CosVertical - c.SinVerticalOffset
	y = xy*cosA + c.HorizontalOffset*sinA
	z = distY*c.SinVertical + c.CosVerticalOffset
	return x, y, z
}

// correctIntensity applies the focal-distance intensity model and rescales
// the result from the laser's [min, max] range to 0-255.
func correctIntensity(c *calib.LaserCorrection, raw uint8, rawDistance uint16) uint8 {
	minI := float64(c.MinIntensity)
	maxI := float64(c.MaxIntensity)

	focal := 1 - c.FocalDistance/131.0
	focalOffset := 256 * focal * focal
	dist := 1 - float64(rawDistance)/65535.0

	i := float64(raw) + c.FocalSlope*math.Abs(focalOffset-256*dist*dist)
	i = math.Max(minI, math.Min(maxI, i))
	i = (i - minI) / (maxI - minI) * 255
	return uint8(math.Round(i))
}
