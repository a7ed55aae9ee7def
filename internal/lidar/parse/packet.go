package parse

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

/*
Velodyne HDL / VLP Data Packet Layout

Every supported sensor (HDL-32E, HDL-64E, VLP-16, VLP-16 Hi-Res, VLP-32A/B,
VLP-32C) emits the same 1206-byte UDP payload. Sensors differ only in how
laser returns map onto laser ids and in their firing timing.

PACKET STRUCTURE (1206 bytes total):
├── Firing Blocks (1200 bytes) - 12 blocks × 100 bytes each, starting at offset 0
│   └── Each block: 2-byte block id + 2-byte azimuth + 32 returns × 3 bytes (distance + intensity)
├── Timestamp (4 bytes) - microseconds since the top of the hour, little-endian
└── Factory (2 bytes) - return mode + sensor type (status byte pair on HDL-64E)

BLOCK IDS:
- 0xEEFF addresses lasers 0-31
- 0xDDFF addresses lasers 32-63 (HDL-64E upper block)

An HDL-64E packet alternates lower and upper blocks, so it is recognised by
the upper block id in the second firing block. VLP-16 packs two 16-laser
firing sequences into each block.

RETURN MODES (first factory byte):
- 0x37 strongest, 0x38 last, 0x39 dual

In dual-return mode consecutive blocks (pairs of pairs on HDL-64E) carry the
first and second return of the same firing at the same azimuth.
*/
const (
	PACKET_SIZE         = 1206
	FIRING_BLOCKS       = 12
	LASERS_PER_BLOCK    = 32
	BYTES_PER_RETURN    = 3
	BLOCK_HEADER_SIZE   = 4
	BLOCK_SIZE          = BLOCK_HEADER_SIZE + LASERS_PER_BLOCK*BYTES_PER_RETURN // 100 bytes
	TIMESTAMP_OFFSET    = FIRING_BLOCKS * BLOCK_SIZE                            // 1200
	FACTORY_OFFSET      = TIMESTAMP_OFFSET + 4                                  // 1204
	BLOCK_ID_LOWER      = 0xEEFF
	BLOCK_ID_UPPER      = 0xDDFF
	VLP16_FIRING_LASERS = 16
)

// ErrPacketFormat is wrapped by every FormatError.
var ErrPacketFormat = errors.New("packet format error")

// FormatError reports a buffer that matches no known packet layout.
type FormatError struct {
	Length int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("packet format error: %d bytes does not match the %d-byte data packet", e.Length, PACKET_SIZE)
}

func (e *FormatError) Unwrap() error { return ErrPacketFormat }

// IsLidarPacket reports whether buf has the length of a sensor data packet.
// It does not inspect or retain buf.
func IsLidarPacket(buf []byte) bool {
	return len(buf) == PACKET_SIZE
}

// Header holds the per-packet fields decoded before the firing blocks.
type Header struct {
	TimeOfHour uint32 // microseconds since the top of the hour
	Factory1   uint8
	Factory2   uint8

	// Reported is the sensor type declared in the second factory byte.
	// It is ModelUnknown for HDL-64E, whose factory bytes carry status.
	Reported   lidar.SensorModel
	Model      lidar.SensorModel // resolved sensor model
	ReturnMode lidar.ReturnMode
	Dual       bool
	HDL64      bool

	// FrozenAzimuth is set for HDL-64E packets whose firing groups all share
	// one azimuth. Single and dual return cannot be told apart then; Dual is
	// false and the decoder keeps the mode of earlier packets.
	FrozenAzimuth bool
}

// ParseHeader decodes the packet-level fields of buf.
func ParseHeader(buf []byte) (Header, error) {
	if !IsLidarPacket(buf) {
		return Header{}, &FormatError{Length: len(buf)}
	}

	h := Header{
		TimeOfHour: binary.LittleEndian.Uint32(buf[TIMESTAMP_OFFSET : TIMESTAMP_OFFSET+4]),
		Factory1:   buf[FACTORY_OFFSET],
		Factory2:   buf[FACTORY_OFFSET+1],
	}
	h.HDL64 = blockID(buf, 1) == BLOCK_ID_UPPER

	if h.HDL64 {
		h.Model = lidar.ModelHDL64E
		// Dual-return HDL-64E repeats the azimuth of each lower/upper pair
		// in the following pair, then moves on with block 4.
		az := blockAzimuth(buf, 0)
		h.FrozenAzimuth = az == blockAzimuth(buf, 2) && az == blockAzimuth(buf, 4)
		h.Dual = az == blockAzimuth(buf, 2) && !h.FrozenAzimuth
		if h.Dual {
			h.ReturnMode = lidar.ReturnDual
		} else {
			h.ReturnMode = lidar.ReturnStrongest
		}
		return h, nil
	}

	h.ReturnMode = lidar.ReturnMode(h.Factory1)
	h.Dual = h.ReturnMode == lidar.ReturnDual
	if m := lidar.SensorModel(h.Factory2); m.Lasers() != 0 && m != lidar.ModelHDL64E {
		h.Reported = m
		h.Model = m
	}
	return h, nil
}

func blockOffset(block int) int { return block * BLOCK_SIZE }

func blockID(buf []byte, block int) uint16 {
	off := blockOffset(block)
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

func blockAzimuth(buf []byte, block int) uint16 {
	off := blockOffset(block) + 2
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

// laserReturn reads return dsr (0-31) of a firing block.
func laserReturn(buf []byte, block, dsr int) (distance uint16, intensity uint8) {
	off := blockOffset(block) + BLOCK_HEADER_SIZE + dsr*BYTES_PER_RETURN
	return binary.LittleEndian.Uint16(buf[off : off+2]), buf[off+2]
}
