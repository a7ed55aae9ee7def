// Package trig holds the azimuth sine/cosine lookup table used on the per-point
// path. A Table is built once at startup with New and then shared read-only
// by every decoder; it is never mutated after construction, so concurrent
// readers need no locking.
package trig

import (
	"math"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// Table holds sin and cos for every discrete azimuth (hundredths of a degree).
type Table struct {
	sin [lidar.AzimuthUnits]float64
	cos [lidar.AzimuthUnits]float64
}

// New builds the table.
func New() *Table {
	t := &Table{}
	for i := 0; i < lidar.AzimuthUnits; i++ {
		rad := float64(i) / 100.0 * math.Pi / 180.0
		t.sin[i], t.cos[i] = math.Sincos(rad)
	}
	return t
}

// Sin returns sin of azimuth a (hundredths of a degree). Values outside
// [0, 36000) are reduced modulo one rotation.
func (t *Table) Sin(a uint16) float64 { return t.sin[a%lidar.AzimuthUnits] }

// Cos returns cos of azimuth a (hundredths of a degree).
func (t *Table) Cos(a uint16) float64 { return t.cos[a%lidar.AzimuthUnits] }

// SinCos returns both values for azimuth a.
func (t *Table) SinCos(a uint16) (sin, cos float64) {
	i := a % lidar.AzimuthUnits
	return t.sin[i], t.cos[i]
}
