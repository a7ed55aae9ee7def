package parse

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// Firing timing per sensor family, in microseconds.
const (
	HDL32_BLOCK_US = 46.08
	HDL32_LASER_US = 1.152
	VLP16_BLOCK_US = 110.592
	VLP16_LASER_US = 2.304
	VLP16_SEQ_US   = 55.296
	VLP32_BLOCK_US = 55.296
	VLP32_PAIR_US  = 2.304
	HDL64_PAIR_US  = 48.0
	HDL64_DUAL_US  = 57.6
	HOUR_US        = 3600 * 1000 * 1000
	HALF_HOUR_US   = HOUR_US / 2
)

// HDL-64E fires lasers in groups of four; the offsets are measured back
// from the packet timestamp, which marks the last firing.
var (
	hdl64SingleOffsets = [4]float64{2.34, 3.54, 4.74, 6.0}
	hdl64DualOffsets   = [4]float64{3.5, 4.7, 5.9, 7.2}
)

// firingOffset returns the time in microseconds between the packet
// timestamp and return dsr (0-31) of firing block block.
func firingOffset(family lidar.Family, dual bool, block, dsr int) float64 {
	switch family {
	case lidar.FamilyHDL32:
		b := float64(block)
		if dual {
			b = math.Floor(b / 2)
		}
		return -(b*HDL32_BLOCK_US + float64(dsr)*HDL32_LASER_US)

	case lidar.FamilyVLP16:
		b := float64(block)
		if dual {
			b = math.Floor(b / 2)
		}
		laser := dsr % VLP16_FIRING_LASERS
		seq := dsr / VLP16_FIRING_LASERS
		return b*VLP16_BLOCK_US + float64(laser)*VLP16_LASER_US + float64(seq)*VLP16_SEQ_US

	case lidar.FamilyVLP32:
		b := float64(block)
		if dual {
			b = math.Floor(b / 2)
		}
		return b*VLP32_BLOCK_US + float64(dsr/2)*VLP32_PAIR_US

	case lidar.FamilyHDL64:
		revDsr := LASERS_PER_BLOCK - dsr - 1
		revBlock := float64(FIRING_BLOCKS - block - 1)
		offsets, blockTime, group := hdl64SingleOffsets, HDL64_PAIR_US, 2.0
		if dual {
			offsets, blockTime, group = hdl64DualOffsets, HDL64_DUAL_US, 4.0
		}
		t := math.Floor(revBlock/group)*blockTime + offsets[revDsr%4] + float64(revDsr/4)*offsets[3]
		return -t
	}
	return 0
}

// blockStep is the distance, in firing blocks, between consecutive firings
// of the same lasers at different azimuths.
func blockStep(family lidar.Family, dual bool) int {
	step := 1
	if family == lidar.FamilyHDL64 {
		step = 2
	}
	if dual {
		step *= 2
	}
	return step
}

// intraFiringRate is the fraction of the block's firing interval elapsed
// when return dsr fired.
func intraFiringRate(family lidar.Family, dual bool, block, dsr int) float64 {
	start := firingOffset(family, dual, block, 0)
	next := firingOffset(family, dual, block+blockStep(family, dual), 0)
	if next == start {
		return 0
	}
	return (firingOffset(family, dual, block, dsr) - start) / (next - start)
}

// wrappedAzimuthDiff returns next-cur in hundredths of a degree, wrapped to
// [-18000, 18000).
func wrappedAzimuthDiff(cur, next uint16) int {
	return (lidar.AzimuthUnits+lidar.AzimuthUnits/2+int(next)-int(cur))%lidar.AzimuthUnits - lidar.AzimuthUnits/2
}

// medianAzimuthDiff estimates the azimuth advance per firing interval as
// the median block-to-block difference. Blocks step apart fire the same
// lasers.
func medianAzimuthDiff(buf []byte, step int, scratch []float64) (int, []float64) {
	scratch = scratch[:0]
	for b := 0; b+step < FIRING_BLOCKS; b++ {
		scratch = append(scratch, float64(wrappedAzimuthDiff(blockAzimuth(buf, b), blockAzimuth(buf, b+step))))
	}
	if len(scratch) == 0 {
		return 0, scratch
	}
	sort.Float64s(scratch)
	return int(stat.Quantile(0.5, stat.Empirical, scratch, nil)), scratch
}
