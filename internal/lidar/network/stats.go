package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// PacketStatsInterface collects per-interval packet statistics.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddRejected()
	AddDropped()
	AddPoints(count int)
	AddFrames(count int)
	LogStats()
}

// PacketStats tracks packet statistics with thread-safe operations.
type PacketStats struct {
	mu       sync.Mutex
	packets  int64
	bytes    int64
	rejected int64
	dropped  int64
	points   int64
	frames   int64
	since    time.Time
	now      func() time.Time
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{since: time.Now(), now: time.Now}
}

// AddPacket counts one accepted data packet.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packets++
	ps.bytes += int64(bytes)
}

// AddRejected counts one payload that was not a data packet.
func (ps *PacketStats) AddRejected() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rejected++
}

// AddDropped counts one packet the forwarder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropped++
}

// AddPoints counts decoded points.
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.points += int64(count)
}

// AddFrames counts sealed frames.
func (ps *PacketStats) AddFrames(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.frames += int64(count)
}

// Snapshot is one interval of statistics.
type Snapshot struct {
	Packets, Bytes, Rejected, Dropped, Points, Frames int64
	Duration                                          time.Duration
}

// GetAndReset returns the current interval and starts a new one.
func (ps *PacketStats) GetAndReset() Snapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	s := Snapshot{
		Packets:  ps.packets,
		Bytes:    ps.bytes,
		Rejected: ps.rejected,
		Dropped:  ps.dropped,
		Points:   ps.points,
		Frames:   ps.frames,
		Duration: now.Sub(ps.since),
	}
	ps.packets, ps.bytes, ps.rejected, ps.dropped, ps.points, ps.frames = 0, 0, 0, 0, 0, 0
	ps.since = now
	return s
}

// String formats the snapshot as per-second rates.
func (s Snapshot) String() string {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	msg := fmt.Sprintf("lidar stats (/sec): %s, %.1f packets, %s points, %.1f frames",
		humanize.Bytes(uint64(float64(s.Bytes)/secs)),
		float64(s.Packets)/secs,
		humanize.Comma(int64(float64(s.Points)/secs)),
		float64(s.Frames)/secs)
	if s.Rejected > 0 {
		msg += fmt.Sprintf(", %s rejected", humanize.Comma(s.Rejected))
	}
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %s dropped on forward", humanize.Comma(s.Dropped))
	}
	return msg
}

// LogStats logs and resets the current interval. Empty intervals are not
// logged.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if s.Packets == 0 && s.Rejected == 0 && s.Dropped == 0 {
		return
	}
	monitoring.Logf("%s", s)
}

// noopStats is used when no stats collector is configured.
type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddRejected()  {}
func (noopStats) AddDropped()   {}
func (noopStats) AddPoints(int) {}
func (noopStats) AddFrames(int) {}
func (noopStats) LogStats()     {}
