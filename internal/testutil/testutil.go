// Package testutil provides shared test utilities and fixtures.
//
// Packet builds raw sensor data packets byte by byte, independently of the
// decoder, so decoder tests compare against an encoding they do not share.
package testutil

import (
	"encoding/binary"
	"testing"
)

// Wire layout of a data packet.
const (
	PacketSize      = 1206
	FiringBlocks    = 12
	ReturnsPerBlock = 32
	BlockSize       = 100
	BlockIDLower    = 0xEEFF
	BlockIDUpper    = 0xDDFF
	AzimuthUnits    = 36000
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Return is one raw laser return.
type Return struct {
	Distance  uint16
	Intensity uint8
}

// Block is one firing block.
type Block struct {
	ID      uint16
	Azimuth uint16
	Returns [ReturnsPerBlock]Return
}

// Packet is a data packet under construction.
type Packet struct {
	Blocks     [FiringBlocks]Block
	TimeOfHour uint32
	Factory1   uint8
	Factory2   uint8
}

// NewPacket returns a packet with lower block ids on every block and the
// given factory bytes (return mode, sensor type).
func NewPacket(factory1, factory2 uint8) *Packet {
	p := &Packet{Factory1: factory1, Factory2: factory2}
	for i := range p.Blocks {
		p.Blocks[i].ID = BlockIDLower
	}
	return p
}

// NewHDL64Packet returns a packet with alternating lower and upper blocks
// and the given status byte pair.
func NewHDL64Packet(statusType, statusValue uint8) *Packet {
	p := NewPacket(statusType, statusValue)
	for i := range p.Blocks {
		if i%2 == 1 {
			p.Blocks[i].ID = BlockIDUpper
		}
	}
	return p
}

// SetAzimuths assigns start, start+step, ... to successive groups of
// blocks; blocks within a group share the azimuth. group is 1 for single
// return, 2 for dual return or HDL-64E, 4 for dual-return HDL-64E.
func (p *Packet) SetAzimuths(start, step, group int) *Packet {
	if group < 1 {
		group = 1
	}
	for i := range p.Blocks {
		az := start + (i/group)*step
		p.Blocks[i].Azimuth = uint16(((az % AzimuthUnits) + AzimuthUnits) % AzimuthUnits)
	}
	return p
}

// Fill sets every return of every block.
func (p *Packet) Fill(distance uint16, intensity uint8) *Packet {
	for i := range p.Blocks {
		for j := range p.Blocks[i].Returns {
			p.Blocks[i].Returns[j] = Return{Distance: distance, Intensity: intensity}
		}
	}
	return p
}

// SetReturn sets one return.
func (p *Packet) SetReturn(block, dsr int, distance uint16, intensity uint8) *Packet {
	p.Blocks[block].Returns[dsr] = Return{Distance: distance, Intensity: intensity}
	return p
}

// At sets the time-of-hour field in microseconds.
func (p *Packet) At(timeOfHour uint32) *Packet {
	p.TimeOfHour = timeOfHour
	return p
}

// Bytes encodes the packet.
func (p *Packet) Bytes() []byte {
	buf := make([]byte, PacketSize)
	for i, b := range p.Blocks {
		off := i * BlockSize
		binary.LittleEndian.PutUint16(buf[off:], b.ID)
		binary.LittleEndian.PutUint16(buf[off+2:], b.Azimuth)
		for j, r := range b.Returns {
			roff := off + 4 + j*3
			binary.LittleEndian.PutUint16(buf[roff:], r.Distance)
			buf[roff+2] = r.Intensity
		}
	}
	binary.LittleEndian.PutUint32(buf[FiringBlocks*BlockSize:], p.TimeOfHour)
	buf[PacketSize-2] = p.Factory1
	buf[PacketSize-1] = p.Factory2
	return buf
}

// RotationStream returns n single-return packets whose block azimuths
// advance by step per block starting at start, with time advancing by
// usPerPacket. Every return is set to distance/intensity.
func RotationStream(n, start, step int, usPerPacket uint32, factory1, factory2 uint8, distance uint16, intensity uint8) [][]byte {
	packets := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		p := NewPacket(factory1, factory2).
			SetAzimuths(start+i*FiringBlocks*step, step, 1).
			Fill(distance, intensity).
			At(uint32(i) * usPerPacket)
		packets = append(packets, p.Bytes())
	}
	return packets
}
