package network

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// CapturedFrame is one link-layer frame read from a capture.
type CapturedFrame struct {
	Data      []byte
	Timestamp time.Time
}

// CaptureReader yields captured frames in order. NextFrame returns io.EOF
// after the last frame.
type CaptureReader interface {
	NextFrame() (*CapturedFrame, error)
	LinkType() layers.LinkType
	Close()
}

// ReplaySummary describes a finished replay.
type ReplaySummary struct {
	Frames   int // link-layer frames read
	Packets  int // data packets handed to the sink
	Rejected int // frames that were not data packets, or failed to decode
	Points   int
	First    time.Time
	Last     time.Time
}

// ReplayCapture feeds every data packet of r to sink in capture order. The
// demux must match the reader's link type; nil selects one for it accepting
// port, or fails with ErrLinkType. Replay runs as fast as the sink allows.
func ReplayCapture(ctx context.Context, r CaptureReader, demux *Demux, port uint16, sink PacketSink, stats PacketStatsInterface) (ReplaySummary, error) {
	var sum ReplaySummary
	if demux == nil {
		d, err := NewDemuxForLink(r.LinkType(), port)
		if err != nil {
			return sum, err
		}
		demux = d
	}
	if stats == nil {
		stats = noopStats{}
	}
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("capture replay stopping due to context cancellation (processed %d packets)", sum.Packets)
			return sum, err
		}

		frame, err := r.NextFrame()
		if errors.Is(err, io.EOF) || (err == nil && frame == nil) {
			monitoring.Logf("capture replay complete: %d packets, %d points in %v", sum.Packets, sum.Points, time.Since(start))
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
		sum.Frames++
		if sum.First.IsZero() {
			sum.First = frame.Timestamp
		}
		sum.Last = frame.Timestamp

		payload, err := demux.Payload(frame.Data)
		if err != nil {
			if !errors.Is(err, ErrWrongPort) {
				sum.Rejected++
				stats.AddRejected()
			}
			continue
		}
		stats.AddPacket(len(payload))
		sum.Packets++

		res, err := sink.ProcessPacket(payload)
		if err != nil {
			sum.Rejected++
			stats.AddRejected()
			continue
		}
		sum.Points += res.Points
		stats.AddPoints(res.Points)
	}
}
