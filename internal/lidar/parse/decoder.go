package parse

import (
	"fmt"
	"time"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/calib"
	"github.com/banshee-data/velodyne.hdl/internal/lidar/trig"
)

// Output receives the decoded content of a packet. Calls arrive in packet
// order: ObservePacket once, then for every firing block BeginFiringBlock
// followed by the points of that block.
type Output interface {
	ObservePacket(info lidar.PacketInfo)
	// BeginFiringBlock feeds the block azimuth to rotation tracking and
	// reports whether a new frame started at this block.
	BeginFiringBlock(azimuth uint16) bool
	AppendPoint(p lidar.Point) int
	// AppendPair appends the two returns of a dual-return pair adjacently
	// and links them through their DualPair fields.
	AppendPair(first, second lidar.Point) (int, int)
}

// Options configures a Decoder.
type Options struct {
	FiringSkip            int // process one firing block in every FiringSkip+1
	IntensityCorrection   bool
	IntraFiringAdjustment bool
	CheckSensor           bool
	KeepZeroDistances     bool

	// Boundary detection used by PreProcessPacket.
	SplitAzimuth  uint16
	WrapTolerance uint16
}

// Result summarises one ProcessPacket call.
type Result struct {
	Header         Header
	Timestamp      time.Duration
	Points         int
	Splits         int // frame boundaries crossed within the packet
	DroppedBlocks  int // blocks with an unrecognised laser layout
	SkippedBlocks  int // blocks left out by the firing skip
	Withheld       bool
	SensorMismatch bool
}

// PreScan is the result of PreProcessPacket.
type PreScan struct {
	Header   Header
	Boundary bool
	Block    int // first firing block of the new rotation
	Offset   int // byte offset of that block
}

// Decoder walks the firing blocks of data packets. One Decoder serves one
// sensor stream and must be fed packets in arrival order.
type Decoder struct {
	opts   Options
	store  *calib.Store
	firing *FiringProcessor

	matcher DualReturnMatcher
	scratch []float64

	// Packet clock.
	lastTimeOfHour uint32
	timeAdjust     time.Duration
	clockStarted   bool

	prescan lidar.FramingState

	unknownLayout lidar.WarnOnce

	// Last HDL-64E return mode decided from a packet whose azimuth moved.
	hdl64Dual  bool
	hdl64Known bool
}

// NewDecoder creates a decoder reading corrections from store.
func NewDecoder(t *trig.Table, store *calib.Store, opts Options) *Decoder {
	if opts.FiringSkip < 0 {
		opts.FiringSkip = 0
	}
	if opts.WrapTolerance == 0 {
		opts.WrapTolerance = lidar.DefaultWrapTolerance
	}
	return &Decoder{
		opts:    opts,
		store:   store,
		firing:  NewFiringProcessor(t, FiringOptions{IntensityCorrection: opts.IntensityCorrection, IntraFiringAdjustment: opts.IntraFiringAdjustment}),
		scratch: make([]float64, 0, FIRING_BLOCKS),
		prescan: lidar.NewFramingState(opts.SplitAzimuth, opts.WrapTolerance),
	}
}

// packetTime converts the time-of-hour field into a monotonic duration,
// adding an hour whenever the counter wraps.
func (d *Decoder) packetTime(toh uint32) time.Duration {
	if d.clockStarted && toh < d.lastTimeOfHour && d.lastTimeOfHour-toh > HALF_HOUR_US {
		d.timeAdjust += time.Hour
		lidar.Diagf("time-of-hour wrapped (%d -> %d), adjust now %v", d.lastTimeOfHour, toh, d.timeAdjust)
	}
	d.lastTimeOfHour = toh
	d.clockStarted = true
	return d.timeAdjust + time.Duration(toh)*time.Microsecond
}

// ProcessPacket decodes buf starting at firing block startBlock. Framing
// sees every block from startBlock on, including skipped ones. Points are
// withheld while no complete calibration is available. A buffer of the
// wrong length is rejected with a *FormatError; every other problem is
// contained within its firing block.
func (d *Decoder) ProcessPacket(buf []byte, startBlock int, out Output) (Result, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return Result{}, err
	}
	if startBlock < 0 || startBlock >= FIRING_BLOCKS {
		return Result{}, fmt.Errorf("start block %d out of range [0, %d)", startBlock, FIRING_BLOCKS)
	}

	if h.HDL64 {
		h = d.resolveHDL64Mode(h)
	}
	res := Result{Header: h, Timestamp: d.packetTime(h.TimeOfHour)}

	var table *calib.Table
	if d.store != nil {
		table = d.store.Table()
		if d.opts.CheckSensor {
			res.SensorMismatch = !d.store.CheckSensorConsistency(h.Model, h.Factory1, h.Factory2)
		} else {
			d.store.ObserveReportedModel(h.Model)
		}
	}
	if table != nil && !table.Complete {
		table = nil
	}
	res.Withheld = table == nil

	model := h.Model
	if model == lidar.ModelUnknown && table != nil {
		model = table.Model
	}
	family := model.Family()

	azimuthDiff := 0
	if d.opts.IntraFiringAdjustment {
		azimuthDiff, d.scratch = medianAzimuthDiff(buf, blockStep(family, h.Dual), d.scratch)
	}

	out.ObservePacket(lidar.PacketInfo{
		Timestamp:  res.Timestamp,
		RawTime:    h.TimeOfHour,
		Azimuth:    blockAzimuth(buf, startBlock),
		Model:      model,
		ReturnMode: h.ReturnMode,
		Dual:       h.Dual,
		Factory1:   h.Factory1,
		Factory2:   h.Factory2,
		Lasers:     table.NumLasers(),
	})

	d.matcher.Reset()
	emit := func(p lidar.Point) {
		out.AppendPoint(p)
		res.Points++
	}

	for block := startBlock; block < FIRING_BLOCKS; block++ {
		second := h.Dual && isSecondReturn(block, h.HDL64)
		if h.Dual && dualGroupStart(block, h.HDL64) {
			d.matcher.Flush(emit)
		}

		if out.BeginFiringBlock(blockAzimuth(buf, block)) {
			res.Splits++
		}

		if block%(d.opts.FiringSkip+1) != 0 {
			res.SkippedBlocks++
			continue
		}
		if table == nil {
			continue
		}

		base, ok := d.laserBase(buf, block, table)
		if !ok {
			res.DroppedBlocks++
			continue
		}

		firing := Firing{
			Block:       block,
			Azimuth:     blockAzimuth(buf, block),
			AzimuthDiff: azimuthDiff,
			Timestamp:   res.Timestamp,
			RawTime:     h.TimeOfHour,
			Family:      family,
			Dual:        h.Dual,
		}

		for dsr := 0; dsr < LASERS_PER_BLOCK; dsr++ {
			distance, intensity := laserReturn(buf, block, dsr)
			if distance == 0 && !d.opts.KeepZeroDistances {
				continue
			}

			laser := base + dsr
			if family == lidar.FamilyVLP16 {
				laser = dsr % VLP16_FIRING_LASERS
			}
			c := table.Laser(laser)
			if c == nil {
				continue
			}

			firing.DSR = dsr
			firing.Laser = laser
			firing.Distance = distance
			firing.Intensity = intensity
			p := d.firing.Process(c, table.DistanceResolution, firing)

			slot := base + dsr
			switch {
			case !h.Dual:
				emit(p)
			case second:
				if first, sec, paired := d.matcher.Match(slot, p, intensity); paired {
					out.AppendPair(first, sec)
					res.Points += 2
				} else {
					emit(unpaired(p))
				}
			default:
				d.matcher.Hold(slot, p, intensity)
			}
		}
	}
	d.matcher.Flush(emit)

	if lidar.TraceEnabled() {
		lidar.Tracef("packet t=%v model=%s mode=%s points=%d splits=%d dropped=%d skipped=%d",
			res.Timestamp, model, h.ReturnMode, res.Points, res.Splits, res.DroppedBlocks, res.SkippedBlocks)
	}
	return res, nil
}

// resolveHDL64Mode carries the last decided HDL-64E return mode over
// packets whose azimuth does not move, where single and dual layouts look
// the same.
func (d *Decoder) resolveHDL64Mode(h Header) Header {
	if !h.FrozenAzimuth {
		d.hdl64Dual, d.hdl64Known = h.Dual, true
		return h
	}
	if d.hdl64Known {
		h.Dual = d.hdl64Dual
		if h.Dual {
			h.ReturnMode = lidar.ReturnDual
		} else {
			h.ReturnMode = lidar.ReturnStrongest
		}
	}
	return h
}

// laserBase returns the laser id of the first return of a firing block.
// Unknown block ids and upper blocks under a table with fewer than 64
// lasers are rejected with a single warning per decoder.
func (d *Decoder) laserBase(buf []byte, block int, table *calib.Table) (int, bool) {
	switch id := blockID(buf, block); id {
	case BLOCK_ID_LOWER:
		return 0, true
	case BLOCK_ID_UPPER:
		if table.NumLasers() >= 2*LASERS_PER_BLOCK {
			return LASERS_PER_BLOCK, true
		}
		d.unknownLayout.Opsf("firing block %d addresses lasers 32-63 but the calibration has %d lasers; dropping such blocks",
			block, table.NumLasers())
		return 0, false
	default:
		d.unknownLayout.Opsf("unrecognised firing block id 0x%04x in block %d; dropping such blocks", id, block)
		return 0, false
	}
}

// PreProcessPacket reports whether buf contains a rotation boundary and
// where the new rotation begins, without decoding any return. It keeps its
// own rotation state, separate from ProcessPacket.
func (d *Decoder) PreProcessPacket(buf []byte) (PreScan, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return PreScan{}, err
	}

	scan := PreScan{Header: h, Block: -1, Offset: -1}
	for block := 0; block < FIRING_BLOCKS; block++ {
		if !d.prescan.Observe(blockAzimuth(buf, block)) {
			continue
		}
		d.prescan.Clear()
		if !scan.Boundary {
			scan.Boundary = true
			scan.Block = block
			scan.Offset = blockOffset(block)
		}
	}
	return scan, nil
}

// Reset forgets the packet clock, the rotation pre-scan state, held dual
// returns and the warning latch. Used when the sensor reconnects.
func (d *Decoder) Reset() {
	d.lastTimeOfHour = 0
	d.timeAdjust = 0
	d.clockStarted = false
	d.prescan.Reset()
	d.matcher.Reset()
	d.unknownLayout.Reset()
	d.hdl64Dual, d.hdl64Known = false, false
}
