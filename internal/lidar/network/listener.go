package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/velodyne.hdl/internal/lidar/parse"
	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// PacketSink consumes sensor data packets in arrival order. The pipeline
// interpreter is the production sink.
type PacketSink interface {
	ProcessPacket(payload []byte) (parse.Result, error)
}

// FrameCounter is implemented by sinks that report how many frames they
// have sealed so far.
type FrameCounter interface {
	FramesSealed() uint64
}

// UDPListener receives data packets from a UDP socket and hands them to a
// sink, optionally forwarding every accepted packet.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	socketFactory UDPSocketFactory
	sink          PacketSink
	stats         PacketStatsInterface
	forwarder     *PacketForwarder

	conn       UDPSocket
	lastFrames uint64
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	SocketFactory UDPSocketFactory // nil selects real sockets
	Sink          PacketSink
	Stats         PacketStatsInterface
	Forwarder     *PacketForwarder
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}

	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		socketFactory: factory,
		sink:          config.Sink,
		stats:         stats,
		forwarder:     config.Forwarder,
	}
}

// Start listens until ctx is cancelled and returns ctx.Err().
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.startStatsLogging(ctx)

	buffer := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// A short deadline lets the loop observe cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			monitoring.Logf("Warning: failed to set UDP read deadline: %v", err)
		}

		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		l.handlePacket(buffer[:n])
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handlePacket filters, forwards and decodes one datagram.
func (l *UDPListener) handlePacket(packet []byte) {
	if !parse.IsLidarPacket(packet) {
		l.stats.AddRejected()
		return
	}
	l.stats.AddPacket(len(packet))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}
	if l.sink == nil {
		return
	}

	res, err := l.sink.ProcessPacket(packet)
	if err != nil {
		l.stats.AddRejected()
		monitoring.Logf("packet decode failed: %v", err)
		return
	}
	l.stats.AddPoints(res.Points)

	if fc, ok := l.sink.(FrameCounter); ok {
		sealed := fc.FramesSealed()
		l.stats.AddFrames(int(sealed - l.lastFrames))
		l.lastFrames = sealed
	}
}

// Close closes the socket.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
