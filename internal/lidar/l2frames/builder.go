package l2frames

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/velodyne.hdl/internal/lidar"
)

// Global registry for Builder instances keyed by SensorID.
var (
	builderRegistry   = map[string]*Builder{}
	builderRegistryMu = &sync.RWMutex{}
)

// RegisterBuilder registers a Builder for a sensor ID.
func RegisterBuilder(sensorID string, b *Builder) {
	if sensorID == "" || b == nil {
		return
	}
	builderRegistryMu.Lock()
	defer builderRegistryMu.Unlock()
	builderRegistry[sensorID] = b
}

// UnregisterBuilder removes the Builder registered for sensorID.
func UnregisterBuilder(sensorID string) {
	builderRegistryMu.Lock()
	defer builderRegistryMu.Unlock()
	delete(builderRegistry, sensorID)
}

// GetBuilder returns a registered Builder or nil.
func GetBuilder(sensorID string) *Builder {
	builderRegistryMu.RLock()
	defer builderRegistryMu.RUnlock()
	return builderRegistry[sensorID]
}

// Config configures a Builder.
type Config struct {
	SensorID  string
	SessionID uuid.UUID // zero value selects a random session

	// Callback receives every sealed frame synchronously. When nil, sealed
	// frames are queued and returned by Frames.
	Callback func(*Frame)

	SplitAzimuth  uint16
	WrapTolerance uint16 // 0 selects lidar.DefaultWrapTolerance
	DualPolicy    lidar.DualReturnPolicy

	RPMWindow  int
	RPMMaxGap  time.Duration
	MinSpinRPM float64 // boundaries are ignored while the sensor is known to spin slower
}

// Builder groups decoded points into one frame per rotation. It receives
// the decoder output directly and is not safe for concurrent use.
type Builder struct {
	cfg Config

	framing lidar.FramingState
	rpm     *RPMEstimator

	current  *Frame
	info     lidar.PacketInfo
	sequence uint64
	lastLen  int
	queued   []*Frame

	stalled lidar.WarnOnce
}

// NewBuilder returns a Builder with an empty open frame.
func NewBuilder(cfg Config) *Builder {
	if cfg.WrapTolerance == 0 {
		cfg.WrapTolerance = lidar.DefaultWrapTolerance
	}
	if cfg.SessionID == uuid.Nil {
		cfg.SessionID = uuid.New()
	}
	b := &Builder{
		cfg:     cfg,
		framing: lidar.NewFramingState(cfg.SplitAzimuth, cfg.WrapTolerance),
		rpm:     NewRPMEstimator(cfg.RPMWindow, cfg.RPMMaxGap),
	}
	b.current = newFrame(0)
	return b
}

// SessionID returns the session the frames belong to.
func (b *Builder) SessionID() uuid.UUID { return b.cfg.SessionID }

// ObservePacket records packet metadata and feeds the RPM estimate.
func (b *Builder) ObservePacket(info lidar.PacketInfo) {
	b.info = info
	b.rpm.Observe(info.Azimuth, info.Timestamp)
}

// BeginFiringBlock seals the open frame when the azimuth crosses the split
// angle. Crossings seen while the sensor is stalled are ignored.
func (b *Builder) BeginFiringBlock(azimuth uint16) bool {
	if !b.framing.Observe(azimuth) {
		return false
	}
	if b.rpm.Stalled(b.cfg.MinSpinRPM) {
		b.framing.Clear()
		b.stalled.Opsf("sensor %s spinning at %.1f rpm (min %.1f); ignoring rotation boundaries",
			b.cfg.SensorID, b.rpm.RPM(), b.cfg.MinSpinRPM)
		return false
	}
	return b.SplitFrame(false)
}

// AppendPoint adds p to the open frame and returns its index.
func (b *Builder) AppendPoint(p lidar.Point) int {
	return b.current.append(p)
}

// AppendPair adds both returns of a pair adjacently and links them.
func (b *Builder) AppendPair(first, second lidar.Point) (int, int) {
	i := b.current.Len()
	first.DualPair = i + 1
	second.DualPair = i
	b.current.append(first)
	b.current.append(second)
	return i, i + 1
}

// SplitFrame closes the open frame. Without force the frame is closed only
// when the framing state has crossed a boundary that has not been acted on.
// Empty frames are never emitted; splitting one still reports a split.
func (b *Builder) SplitFrame(force bool) bool {
	if !force && b.framing.Phase() != lidar.PhaseBoundaryCrossed {
		return false
	}
	b.framing.Clear()
	if b.current.Len() == 0 {
		return true
	}
	reason := SealBoundary
	if force {
		reason = SealForced
	}
	b.seal(reason)
	return true
}

// seal closes the open frame, delivers it and opens the next one.
func (b *Builder) seal(reason SealReason) {
	f := b.current
	b.lastLen = f.Len()
	b.current = newFrame(b.lastLen)

	f.Metadata = Metadata{
		FrameID:        fmt.Sprintf("%s-frame-%d", b.cfg.SensorID, b.sequence),
		SessionID:      b.cfg.SessionID,
		SensorID:       b.cfg.SensorID,
		Sequence:       b.sequence,
		RPM:            b.rpm.RPM(),
		StartTimestamp: f.StartTimestamp,
		EndTimestamp:   f.EndTimestamp,
		Model:          b.info.Model,
		ReturnMode:     b.info.ReturnMode,
		Factory1:       b.info.Factory1,
		Factory2:       b.info.Factory2,
		Lasers:         b.info.Lasers,
		Reason:         reason,
		DualPolicy:     lidar.DualKeepBoth,
	}
	b.sequence++
	f.sealed = true

	if b.cfg.DualPolicy != lidar.DualKeepBoth {
		f = f.SelectDualReturns(b.cfg.DualPolicy)
	}

	lidar.Diagf("%s sealed (%d points, %.1f rpm)", f.FrameID, f.Len(), f.RPM)
	if b.cfg.Callback != nil {
		b.cfg.Callback(f)
		return
	}
	b.queued = append(b.queued, f)
}

// Frames returns and clears the queued frames.
func (b *Builder) Frames() []*Frame {
	out := b.queued
	b.queued = nil
	return out
}

// Pending returns the number of points in the open frame.
func (b *Builder) Pending() int { return b.current.Len() }

// RPM returns the current spin rate estimate.
func (b *Builder) RPM() float64 { return b.rpm.RPM() }

// Sequence returns the sequence number the next frame will carry.
func (b *Builder) Sequence() uint64 { return b.sequence }

// Reset discards the open frame and queued frames and forgets rotation
// history. Frame numbering continues.
func (b *Builder) Reset() {
	b.current = newFrame(0)
	b.queued = nil
	b.framing.Reset()
	b.rpm.Reset()
	b.info = lidar.PacketInfo{}
	b.stalled.Reset()
}
