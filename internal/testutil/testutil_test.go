package testutil

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("boom"))
}

func TestPacketBytes(t *testing.T) {
	p := NewPacket(0x37, 0x22).SetAzimuths(35900, 20, 1).Fill(500, 9).At(123456)
	p.SetReturn(3, 31, 1000, 77)
	buf := p.Bytes()

	if len(buf) != PacketSize {
		t.Fatalf("len = %d, want %d", len(buf), PacketSize)
	}
	if got := binary.LittleEndian.Uint16(buf[0:2]); got != BlockIDLower {
		t.Errorf("block id = 0x%04x", got)
	}
	// 35900 + 5*20 wraps to 0.
	if got := binary.LittleEndian.Uint16(buf[5*BlockSize+2:]); got != 0 {
		t.Errorf("block 5 azimuth = %d, want 0", got)
	}
	off := 3*BlockSize + 4 + 31*3
	if d, i := binary.LittleEndian.Uint16(buf[off:]), buf[off+2]; d != 1000 || i != 77 {
		t.Errorf("return = (%d, %d), want (1000, 77)", d, i)
	}
	if got := binary.LittleEndian.Uint32(buf[1200:]); got != 123456 {
		t.Errorf("time of hour = %d", got)
	}
	if buf[1204] != 0x37 || buf[1205] != 0x22 {
		t.Errorf("factory bytes = %02x %02x", buf[1204], buf[1205])
	}
}

func TestNewHDL64Packet(t *testing.T) {
	buf := NewHDL64Packet(0x85, 0x10).SetAzimuths(100, 20, 2).Bytes()
	if got := binary.LittleEndian.Uint16(buf[BlockSize:]); got != BlockIDUpper {
		t.Errorf("block 1 id = 0x%04x, want upper", got)
	}
	if a0, a1 := binary.LittleEndian.Uint16(buf[2:]), binary.LittleEndian.Uint16(buf[BlockSize+2:]); a0 != a1 {
		t.Errorf("paired blocks should share azimuth: %d vs %d", a0, a1)
	}
}

func TestRotationStream(t *testing.T) {
	packets := RotationStream(3, 0, 10, 1000, 0x37, 0x21, 100, 1)
	if len(packets) != 3 {
		t.Fatalf("got %d packets", len(packets))
	}
	if got := binary.LittleEndian.Uint16(packets[1][2:]); got != 120 {
		t.Errorf("second packet first azimuth = %d, want 120", got)
	}
}
