package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T, l *UDPListener) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()
	return cancel, errCh
}

func TestUDPListener_DeliversDataPackets(t *testing.T) {
	sock := &mockSocket{packets: [][]byte{dataPacket(), []byte("not a data packet"), dataPacket()}}
	sink := &recordingSink{points: 384}
	stats := &countingStats{}

	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		RcvBuf:        4 << 20,
		LogInterval:   time.Hour,
		SocketFactory: &mockSocketFactory{socket: sock},
		Sink:          sink,
		Stats:         stats,
	})
	cancel, errCh := startListener(t, l)

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	assert.Equal(t, 2, stats.packets)
	assert.Equal(t, 1, stats.rejected)
	assert.Equal(t, 768, stats.points)
	assert.Equal(t, 2, stats.frames)
	assert.Equal(t, 4<<20, sock.rcvBuf)
	assert.True(t, sock.closed)
	assert.Len(t, sink.payloads[0], 1206)
}

func TestUDPListener_SinkErrorCountsAsRejected(t *testing.T) {
	sock := &mockSocket{packets: [][]byte{dataPacket()}}
	sink := &recordingSink{err: errBoom}
	stats := &countingStats{}

	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		SocketFactory: &mockSocketFactory{socket: sock},
		Sink:          sink,
		Stats:         stats,
	})
	cancel, errCh := startListener(t, l)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-errCh

	assert.Equal(t, 1, stats.packets)
	assert.Equal(t, 1, stats.rejected)
	assert.Zero(t, stats.points)
}

func TestUDPListener_ReadErrorsAreSkipped(t *testing.T) {
	sock := &mockSocket{packets: [][]byte{dataPacket()}, readError: errBoom}
	sink := &recordingSink{}

	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		SocketFactory: &mockSocketFactory{socket: sock},
		Sink:          sink,
	})
	cancel, errCh := startListener(t, l)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-errCh
}

func TestUDPListener_ClosedSocketStopsLoop(t *testing.T) {
	sock := &mockSocket{}
	require.NoError(t, sock.Close())
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		SocketFactory: &mockSocketFactory{socket: sock},
	})
	_, errCh := startListener(t, l)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after the socket closed")
	}
}

func TestUDPListener_ListenError(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		SocketFactory: &mockSocketFactory{err: errBoom},
	})
	err := l.Start(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestUDPListener_BadAddress(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "not an address"})
	assert.Error(t, l.Start(context.Background()))
}

func TestUDPListener_CloseBeforeStart(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:2368"})
	assert.NoError(t, l.Close())
}

func TestUDPListener_NoSinkStillCounts(t *testing.T) {
	stats := &countingStats{}
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:2368", Stats: stats})

	l.handlePacket(dataPacket())
	l.handlePacket([]byte{0})

	assert.Equal(t, 1, stats.packets)
	assert.Equal(t, 1, stats.rejected)
}
