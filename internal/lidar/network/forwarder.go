package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// DropCounter records packets the forwarder had to discard.
type DropCounter interface {
	AddDropped()
}

const forwardQueueSize = 1000

// PacketForwarder relays accepted data packets to another UDP address
// without blocking the receive loop. Packets are dropped when the queue is
// full or the write fails.
type PacketForwarder struct {
	conn        net.Conn
	queue       chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string
	closeOnce   sync.Once
}

// NewPacketForwarder dials address ("host:port").
func NewPacketForwarder(address string, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		queue:       make(chan []byte, forwardQueueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
	}, nil
}

// Start runs the send loop until ctx is cancelled or the forwarder is
// closed. Write failures are summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		var failed int64
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-f.queue:
				if !ok {
					return
				}
				if _, err := f.conn.Write(pkt); err != nil {
					failed++
					lastErr = err
					f.stats.AddDropped()
				}
			case <-ticker.C:
				if failed > 0 {
					monitoring.Logf("dropped %s forwarded packets to %s (latest: %v)",
						humanize.Comma(failed), f.address, lastErr)
					failed, lastErr = 0, nil
				}
			}
		}
	}()

	monitoring.Logf("forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet, dropping it when the queue is full.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	cp := make([]byte, len(packet))
	copy(cp, packet)

	select {
	case f.queue <- cp:
	default:
		f.stats.AddDropped()
	}
}

// Close stops the send loop and closes the connection.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.queue)
		err = f.conn.Close()
	})
	return err
}
