package parse

import "github.com/banshee-data/velodyne.hdl/internal/lidar"

// isSecondReturn reports whether a firing block carries the second return
// of a dual-return packet.
func isSecondReturn(block int, hdl64 bool) bool {
	if hdl64 {
		return (block/2)%2 == 1
	}
	return block%2 == 1
}

// dualGroupStart reports whether block opens a dual-return firing group:
// first then second return of the same lasers. HDL-64E groups span four
// blocks (lower first, upper first, lower second, upper second).
func dualGroupStart(block int, hdl64 bool) bool {
	if hdl64 {
		return block%4 == 0
	}
	return block%2 == 0
}

// CompareReturns computes the dual-return flags of two returns of the same
// laser. The distance and intensity pairs are independent; a tie sets both
// bits of that pair on both returns, so identical returns are Doubled.
func CompareReturns(firstDistance, secondDistance uint16, firstIntensity, secondIntensity uint8) (first, second lidar.DualFlag) {
	switch {
	case firstDistance < secondDistance:
		first |= lidar.DualDistanceNear
		second |= lidar.DualDistanceFar
	case firstDistance > secondDistance:
		first |= lidar.DualDistanceFar
		second |= lidar.DualDistanceNear
	default:
		first |= lidar.DualDistanceMask
		second |= lidar.DualDistanceMask
	}

	switch {
	case firstIntensity > secondIntensity:
		first |= lidar.DualIntensityHigh
		second |= lidar.DualIntensityLow
	case firstIntensity < secondIntensity:
		first |= lidar.DualIntensityLow
		second |= lidar.DualIntensityHigh
	default:
		first |= lidar.DualIntensityMask
		second |= lidar.DualIntensityMask
	}
	return first, second
}

type heldReturn struct {
	point     lidar.Point
	intensity uint8 // raw intensity
	ok        bool
}

// DualReturnMatcher pairs the first and second returns of each laser
// within one dual-return firing. Returns are keyed by their slot: the
// return index within the block, offset by 32 for HDL-64E upper blocks.
type DualReturnMatcher struct {
	held  [lidar.MaxLasers]heldReturn
	count int
}

// Hold stores a first return until its second return arrives.
func (m *DualReturnMatcher) Hold(slot int, p lidar.Point, rawIntensity uint8) {
	if !m.held[slot].ok {
		m.count++
	}
	m.held[slot] = heldReturn{point: p, intensity: rawIntensity, ok: true}
}

// Match pairs a second return with the held first return of its slot and
// sets the flags of both. It reports false, leaving second untouched, when
// no first return is held.
func (m *DualReturnMatcher) Match(slot int, second lidar.Point, rawIntensity uint8) (lidar.Point, lidar.Point, bool) {
	h := &m.held[slot]
	if !h.ok {
		return lidar.Point{}, second, false
	}
	first := h.point
	first.Flags, second.Flags = CompareReturns(first.DistanceRaw, second.DistanceRaw, h.intensity, rawIntensity)
	h.ok = false
	m.count--
	return first, second, true
}

// Flush hands every unmatched first return to emit, in slot order, marked
// as Doubled with no pair.
func (m *DualReturnMatcher) Flush(emit func(lidar.Point)) int {
	if m.count == 0 {
		return 0
	}
	n := 0
	for slot := range m.held {
		h := &m.held[slot]
		if !h.ok {
			continue
		}
		h.ok = false
		emit(unpaired(h.point))
		n++
	}
	m.count = 0
	return n
}

// Reset drops any held returns.
func (m *DualReturnMatcher) Reset() {
	for i := range m.held {
		m.held[i].ok = false
	}
	m.count = 0
}

// unpaired marks a return that has no partner.
func unpaired(p lidar.Point) lidar.Point {
	p.Flags = lidar.DualDoubled
	p.DualPair = -1
	return p
}
