package l2frames

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// SealReason records why a frame was closed.
type SealReason int

const (
	SealBoundary SealReason = iota // rotation boundary crossed
	SealForced                     // SplitFrame(true)
)

func (r SealReason) String() string {
	if r == SealForced {
		return "forced"
	}
	return "boundary"
}

// Metadata describes a sealed frame.
type Metadata struct {
	FrameID        string
	SessionID      uuid.UUID
	SensorID       string
	Sequence       uint64
	RPM            float64
	StartTimestamp time.Duration // earliest point timestamp
	EndTimestamp   time.Duration // latest point timestamp
	Model          lidar.SensorModel
	ReturnMode     lidar.ReturnMode
	Factory1       uint8
	Factory2       uint8
	Lasers         int
	Reason         SealReason
	DualPolicy     lidar.DualReturnPolicy
}

// Columns exposes the points of a frame as parallel slices. The slices
// belong to the frame and must not be modified.
type Columns struct {
	X, Y, Z       []float64
	Intensity     []uint8
	LaserID       []uint8
	Azimuth       []uint16
	DistanceRaw   []uint16
	Distance      []float64
	VerticalAngle []float64
	Timestamp     []time.Duration
	RawTime       []uint32
	Flags         []lidar.DualFlag
	DualPair      []int
}

// Frame holds the points of one rotation. It is filled by a Builder and
// becomes immutable once sealed.
type Frame struct {
	Metadata

	cols   Columns
	sealed bool
}

func newFrame(capacity int) *Frame {
	f := &Frame{}
	f.cols = Columns{
		X:             make([]float64, 0, capacity),
		Y:             make([]float64, 0, capacity),
		Z:             make([]float64, 0, capacity),
		Intensity:     make([]uint8, 0, capacity),
		LaserID:       make([]uint8, 0, capacity),
		Azimuth:       make([]uint16, 0, capacity),
		DistanceRaw:   make([]uint16, 0, capacity),
		Distance:      make([]float64, 0, capacity),
		VerticalAngle: make([]float64, 0, capacity),
		Timestamp:     make([]time.Duration, 0, capacity),
		RawTime:       make([]uint32, 0, capacity),
		Flags:         make([]lidar.DualFlag, 0, capacity),
		DualPair:      make([]int, 0, capacity),
	}
	return f
}

// Len returns the number of points.
func (f *Frame) Len() int { return len(f.cols.X) }

// Sealed reports whether the frame has been closed.
func (f *Frame) Sealed() bool { return f.sealed }

// Columns returns the column view of the frame.
func (f *Frame) Columns() Columns { return f.cols }

// Point reassembles point i.
func (f *Frame) Point(i int) lidar.Point {
	c := &f.cols
	return lidar.Point{
		X:             c.X[i],
		Y:             c.Y[i],
		Z:             c.Z[i],
		Intensity:     c.Intensity[i],
		LaserID:       c.LaserID[i],
		Azimuth:       c.Azimuth[i],
		DistanceRaw:   c.DistanceRaw[i],
		Distance:      c.Distance[i],
		VerticalAngle: c.VerticalAngle[i],
		Timestamp:     c.Timestamp[i],
		RawTime:       c.RawTime[i],
		Flags:         c.Flags[i],
		DualPair:      c.DualPair[i],
	}
}

// Points returns a copy of every point in order.
func (f *Frame) Points() []lidar.Point {
	pts := make([]lidar.Point, f.Len())
	for i := range pts {
		pts[i] = f.Point(i)
	}
	return pts
}

// append adds p and returns its index, or -1 once the frame is sealed.
func (f *Frame) append(p lidar.Point) int {
	if f.sealed {
		return -1
	}
	c := &f.cols
	c.X = append(c.X, p.X)
	c.Y = append(c.Y, p.Y)
	c.Z = append(c.Z, p.Z)
	c.Intensity = append(c.Intensity, p.Intensity)
	c.LaserID = append(c.LaserID, p.LaserID)
	c.Azimuth = append(c.Azimuth, p.Azimuth)
	c.DistanceRaw = append(c.DistanceRaw, p.DistanceRaw)
	c.Distance = append(c.Distance, p.Distance)
	c.VerticalAngle = append(c.VerticalAngle, p.VerticalAngle)
	c.Timestamp = append(c.Timestamp, p.Timestamp)
	c.RawTime = append(c.RawTime, p.RawTime)
	c.Flags = append(c.Flags, p.Flags)
	c.DualPair = append(c.DualPair, p.DualPair)

	if f.Len() == 1 || p.Timestamp < f.StartTimestamp {
		f.StartTimestamp = p.Timestamp
	}
	if f.Len() == 1 || p.Timestamp > f.EndTimestamp {
		f.EndTimestamp = p.Timestamp
	}
	return f.Len() - 1
}

// keeps reports whether point i survives the dual-return policy. Unpaired
// points always survive; of a pair tied on the selected criterion only the
// lower index survives.
func (f *Frame) keeps(i int, policy lidar.DualReturnPolicy) bool {
	pair := f.cols.DualPair[i]
	if policy == lidar.DualKeepBoth || pair < 0 {
		return true
	}
	want := lidar.DualDistanceNear
	if policy == lidar.DualKeepStrongest {
		want = lidar.DualIntensityHigh
	}
	mine := f.cols.Flags[i].Has(want)
	theirs := f.cols.Flags[pair].Has(want)
	if mine && theirs {
		return i < pair
	}
	return mine
}

// SelectDualReturns returns a new sealed frame holding only the returns
// chosen by policy, with pair indices remapped. Points whose partner was
// dropped have DualPair -1 and keep their flags.
func (f *Frame) SelectDualReturns(policy lidar.DualReturnPolicy) *Frame {
	out := newFrame(f.Len())
	out.Metadata = f.Metadata
	out.DualPolicy = policy

	remap := make([]int, f.Len())
	for i := 0; i < f.Len(); i++ {
		remap[i] = -1
		if f.keeps(i, policy) {
			remap[i] = out.append(f.Point(i))
		}
	}
	for i, pair := range out.cols.DualPair {
		if pair >= 0 {
			out.cols.DualPair[i] = remap[pair]
		}
	}
	out.sealed = true
	return out
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame(%s, %d points, %.1f rpm, %v-%v, %s)",
		f.FrameID, f.Len(), f.RPM, f.StartTimestamp, f.EndTimestamp, f.Reason)
}
