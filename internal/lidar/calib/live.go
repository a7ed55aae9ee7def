package calib

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

/*
Live calibration

HDL-64E sensors do not need a separate calibration file: every data packet
carries a status byte pair in the two trailing factory bytes. When the
status type has its high bit set, the low bits address one byte of a
per-laser calibration record and the status value carries that byte. A full
record therefore spans SliceSize consecutive packets.

RECORD LAYOUT (SliceSize bytes, little-endian):
├── 0      channel (laser id)
├── 1-2    vertical correction       int16, 1/100 degree
├── 3-4    rotational correction     int16, 1/100 degree
├── 5-6    far distance correction   int16, 0.1 mm
├── 7-8    distance correction X     int16, 0.1 mm
├── 9-10   distance correction Y     int16, 0.1 mm
├── 11-12  vertical offset           int16, 0.1 mm
├── 13-14  horizontal offset         int16, 0.1 mm
├── 15-16  focal distance            int16, mm
├── 17-18  focal slope               int16, x10
├── 19     min intensity
└── 20     max intensity
*/

const (
	// SliceSize is the length of one per-laser calibration record.
	SliceSize = 21

	// StatusSliceFlag marks a status type byte that addresses a slice byte.
	StatusSliceFlag = 0x80
)

// Slice is one complete per-laser calibration record.
type Slice [SliceSize]byte

// Channel returns the laser id the slice is addressed to.
func (s Slice) Channel() int { return int(s[0]) }

// EncodeSlice packs a laser correction into a slice record. Values outside
// the record's fixed-point range are clamped.
func EncodeSlice(c LaserCorrection) Slice {
	var s Slice
	s[0] = uint8(c.ID)
	putFixed(s[1:], c.VerticalCorrection, 100)
	putFixed(s[3:], c.RotationalCorrection, 100)
	putFixed(s[5:], c.DistanceCorrection, 10000)
	putFixed(s[7:], c.DistanceCorrectionX, 10000)
	putFixed(s[9:], c.DistanceCorrectionY, 10000)
	putFixed(s[11:], c.VerticalOffset, 10000)
	putFixed(s[13:], c.HorizontalOffset, 10000)
	putFixed(s[15:], c.FocalDistance, 1000)
	putFixed(s[17:], c.FocalSlope, 10)
	s[19] = c.MinIntensity
	s[20] = c.MaxIntensity
	return s
}

// DecodeSlice unpacks a slice record into a laser correction. The sin/cos
// fields are left for the table builder to fill.
func DecodeSlice(s Slice) LaserCorrection {
	return LaserCorrection{
		ID:                   s.Channel(),
		VerticalCorrection:   getFixed(s[1:], 100),
		RotationalCorrection: getFixed(s[3:], 100),
		DistanceCorrection:   getFixed(s[5:], 10000),
		DistanceCorrectionX:  getFixed(s[7:], 10000),
		DistanceCorrectionY:  getFixed(s[9:], 10000),
		VerticalOffset:       getFixed(s[11:], 10000),
		HorizontalOffset:     getFixed(s[13:], 10000),
		FocalDistance:        getFixed(s[15:], 1000),
		FocalSlope:           getFixed(s[17:], 10),
		MinIntensity:         s[19],
		MaxIntensity:         s[20],
	}
}

func putFixed(b []byte, v, scale float64) {
	f := v * scale
	if f >= 0 {
		f += 0.5
	} else {
		f -= 0.5
	}
	switch {
	case f > 32767:
		f = 32767
	case f < -32768:
		f = -32768
	}
	binary.LittleEndian.PutUint16(b, uint16(int16(f)))
}

func getFixed(b []byte, scale float64) float64 {
	return float64(int16(binary.LittleEndian.Uint16(b))) / scale
}

// StatusBytes returns the status byte pair that carries byte pos of a
// slice. It is the inverse of SliceAssembler.Add and is used to synthesise
// live calibration streams.
func StatusBytes(s Slice, pos int) (statusType, statusValue uint8) {
	return StatusSliceFlag | uint8(pos), s[pos]
}

// SliceAssembler rebuilds slices from the status byte pair of consecutive
// packets. A gap in the byte sequence discards the partial record.
type SliceAssembler struct {
	buf  Slice
	next int // next expected byte position, -1 when idle
}

// NewSliceAssembler returns an idle assembler.
func NewSliceAssembler() *SliceAssembler {
	return &SliceAssembler{next: -1}
}

// Add consumes one status byte pair. It returns the completed slice and true
// when the pair closes a record.
func (a *SliceAssembler) Add(statusType, statusValue uint8) (Slice, bool) {
	if statusType&StatusSliceFlag == 0 {
		return Slice{}, false
	}
	pos := int(statusType &^ StatusSliceFlag)
	if pos >= SliceSize {
		a.next = -1
		return Slice{}, false
	}

	switch {
	case pos == 0:
		a.buf = Slice{}
	case pos != a.next:
		a.next = -1
		return Slice{}, false
	}

	a.buf[pos] = statusValue
	a.next = pos + 1
	if a.next < SliceSize {
		return Slice{}, false
	}
	a.next = -1
	return a.buf, true
}

// Reset discards any partial record.
func (a *SliceAssembler) Reset() {
	a.buf = Slice{}
	a.next = -1
}

// Accumulator tracks per-laser completion of a live calibration. It is
// owned by a single interpreter and is not safe for concurrent use.
type Accumulator struct {
	model    lidar.SensorModel
	lasers   []LaserCorrection
	received []bool
	count    int
	table    *Table
}

// NewAccumulator prepares an accumulator for the given sensor model.
func NewAccumulator(model lidar.SensorModel) (*Accumulator, error) {
	n := model.Lasers()
	if n == 0 {
		return nil, calibErrorf("live", nil, "cannot accumulate calibration for %s", model)
	}
	return &Accumulator{
		model:    model,
		lasers:   make([]LaserCorrection, n),
		received: make([]bool, n),
	}, nil
}

// AddSlice records the slice for its laser. Duplicate slices and slices
// addressed outside the model's laser range are ignored. It reports
// whether this slice completed the table.
func (a *Accumulator) AddSlice(s Slice) bool {
	id := s.Channel()
	if id >= len(a.lasers) || a.received[id] || a.table != nil {
		return false
	}
	a.lasers[id] = DecodeSlice(s)
	a.received[id] = true
	a.count++

	if a.count < len(a.lasers) {
		lidar.Tracef("live calibration: laser %d received (%d/%d)", id, a.count, len(a.lasers))
		return false
	}

	lasers := make([]LaserCorrection, len(a.lasers))
	copy(lasers, a.lasers)
	a.table = newTable(a.model, SourceLive, DefaultDistanceResolution, lasers)
	lidar.Diagf("live calibration complete: %d lasers", len(lasers))
	return true
}

// Complete reports whether every laser has received its slice.
func (a *Accumulator) Complete() bool { return a.table != nil }

// Progress returns the number of lasers received and the total.
func (a *Accumulator) Progress() (received, total int) {
	return a.count, len(a.lasers)
}

// Missing returns the ids of lasers still waiting for a slice.
func (a *Accumulator) Missing() []int {
	var ids []int
	for id, ok := range a.received {
		if !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Table returns the reconstructed table once complete, nil before.
func (a *Accumulator) Table() *Table { return a.table }

// Reset discards all progress.
func (a *Accumulator) Reset() {
	for i := range a.received {
		a.received[i] = false
		a.lasers[i] = LaserCorrection{}
	}
	a.count = 0
	a.table = nil
}

func (a *Accumulator) String() string {
	return fmt.Sprintf("calib.Accumulator(%s, %d/%d)", a.model, a.count, len(a.lasers))
}
