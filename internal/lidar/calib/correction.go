// Package calib holds per-laser calibration: the correction table, its
// loaders (file, embedded defaults, live stream reconstruction) and the
// Store that publishes the active table to the decode path.
package calib

import (
	"math"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// DefaultDistanceResolution is the distance unit of every supported sensor
// (2 mm per LSB).
const DefaultDistanceResolution = 0.002

// Source records where a Table came from.
type Source int

const (
	SourceFile Source = iota
	SourceDefault
	SourceLive
)

func (s Source) String() string {
	switch s {
	case SourceFile:
		return "file"
	case SourceDefault:
		return "default"
	case SourceLive:
		return "live"
	default:
		return "unknown"
	}
}

// LaserCorrection contains the calibration parameters of one laser.
// Angles are in degrees, lengths in metres.
type LaserCorrection struct {
	ID                   int
	VerticalCorrection   float64
	RotationalCorrection float64
	DistanceCorrection   float64
	DistanceCorrectionX  float64
	DistanceCorrectionY  float64
	VerticalOffset       float64
	HorizontalOffset     float64
	FocalDistance        float64
	FocalSlope           float64
	MinIntensity         uint8
	MaxIntensity         uint8

	// Precomputed on load so the per-point path avoids transcendental calls.
	SinVertical       float64
	CosVertical       float64
	SinRotational     float64
	CosRotational     float64
	SinVerticalOffset float64 // VerticalOffset * SinVertical
	CosVerticalOffset float64 // VerticalOffset * CosVertical
}

func (c *LaserCorrection) precompute() {
	v := c.VerticalCorrection * math.Pi / 180.0
	r := c.RotationalCorrection * math.Pi / 180.0
	c.SinVertical, c.CosVertical = math.Sincos(v)
	c.SinRotational, c.CosRotational = math.Sincos(r)
	c.SinVerticalOffset = c.VerticalOffset * c.SinVertical
	c.CosVerticalOffset = c.VerticalOffset * c.CosVertical
}

// HasTwoPointDistance reports whether the HDL-64E two-point distance
// correction applies to this laser.
func (c *LaserCorrection) HasTwoPointDistance() bool {
	return c.DistanceCorrectionX != 0 || c.DistanceCorrectionY != 0
}

// HasIntensityRange reports whether the laser carries a usable intensity
// calibration range.
func (c *LaserCorrection) HasIntensityRange() bool {
	return c.MaxIntensity > c.MinIntensity
}

// Table is a full set of corrections for one sensor, indexed by laser id.
// A Table is immutable once it has been published by a Store.
type Table struct {
	Model              lidar.SensorModel
	Source             Source
	DistanceResolution float64
	Lasers             []LaserCorrection
	Complete           bool
}

// NumLasers returns the number of lasers covered by the table.
func (t *Table) NumLasers() int {
	if t == nil {
		return 0
	}
	return len(t.Lasers)
}

// Laser returns the correction for laser id, or nil when out of range.
func (t *Table) Laser(id int) *LaserCorrection {
	if t == nil || id < 0 || id >= len(t.Lasers) {
		return nil
	}
	return &t.Lasers[id]
}

func newTable(model lidar.SensorModel, source Source, resolution float64, lasers []LaserCorrection) *Table {
	if resolution <= 0 {
		resolution = DefaultDistanceResolution
	}
	for i := range lasers {
		lasers[i].precompute()
	}
	return &Table{
		Model:              model,
		Source:             source,
		DistanceResolution: resolution,
		Lasers:             lasers,
		Complete:           true,
	}
}
