package network

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/banshee-data/velodyne.hdl/internal/lidar/parse"
	"github.com/banshee-data/velodyne.hdl/internal/testutil"
)

// ethFrame wraps payload in Ethernet/IPv4/UDP headers.
func ethFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x60, 0x76, 0x88, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 1, 201},
		DstIP:    net.IP{255, 255, 255, 255},
	}
	udp := &layers.UDP{SrcPort: 2368, DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

// sllFrame re-wraps an Ethernet frame in a 16-byte Linux cooked header.
func sllFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := ethFrame(t, dstPort, payload)[14:]
	hdr := []byte{
		0x00, 0x00, // packet type: to us
		0x00, 0x01, // ARPHRD_ETHER
		0x00, 0x06, // address length
		0x60, 0x76, 0x88, 0x00, 0x00, 0x01, 0x00, 0x00,
		0x08, 0x00, // IPv4
	}
	return append(hdr, ip...)
}

func dataPacket() []byte {
	return testutil.NewPacket(0x37, 0x22).SetAzimuths(0, 20, 1).Fill(500, 10).Bytes()
}

// recordingSink counts what it is handed.
type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
	points   int
	err      error
	frames   uint64
	onPacket func(n int)
}

func (s *recordingSink) ProcessPacket(payload []byte) (parse.Result, error) {
	s.mu.Lock()
	cp := append([]byte(nil), payload...)
	s.payloads = append(s.payloads, cp)
	n := len(s.payloads)
	s.frames++
	s.mu.Unlock()

	if s.onPacket != nil {
		s.onPacket(n)
	}
	if s.err != nil {
		return parse.Result{}, s.err
	}
	return parse.Result{Points: s.points}, nil
}

func (s *recordingSink) FramesSealed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// countingStats implements PacketStatsInterface for testing.
type countingStats struct {
	mu       sync.Mutex
	packets  int
	rejected int
	dropped  int
	points   int
	frames   int
	logCalls int
}

func (c *countingStats) AddPacket(int)   { c.mu.Lock(); c.packets++; c.mu.Unlock() }
func (c *countingStats) AddRejected()    { c.mu.Lock(); c.rejected++; c.mu.Unlock() }
func (c *countingStats) AddDropped()     { c.mu.Lock(); c.dropped++; c.mu.Unlock() }
func (c *countingStats) AddPoints(n int) { c.mu.Lock(); c.points += n; c.mu.Unlock() }
func (c *countingStats) AddFrames(n int) { c.mu.Lock(); c.frames += n; c.mu.Unlock() }
func (c *countingStats) LogStats()       { c.mu.Lock(); c.logCalls++; c.mu.Unlock() }

// mockSocket replays datagrams and then times out.
type mockSocket struct {
	mu        sync.Mutex
	packets   [][]byte
	next      int
	closed    bool
	rcvBuf    int
	readError error
}

func (m *mockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if m.readError != nil {
		err := m.readError
		m.readError = nil
		return 0, nil, err
	}
	if m.next >= len(m.packets) {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	n := copy(b, m.packets[m.next])
	m.next++
	return n, &net.UDPAddr{IP: net.IP{192, 168, 1, 201}, Port: 2368}, nil
}

func (m *mockSocket) SetReadBuffer(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rcvBuf = n
	return nil
}

func (m *mockSocket) SetReadDeadline(time.Time) error { return nil }

func (m *mockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IP{127, 0, 0, 1}, Port: DefaultDataPort}
}

type mockSocketFactory struct {
	socket *mockSocket
	err    error
}

func (f *mockSocketFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// mockCapture replays frames from memory.
type mockCapture struct {
	frames   []CapturedFrame
	next     int
	linkType layers.LinkType
	err      error
	closed   bool
}

func (m *mockCapture) NextFrame() (*CapturedFrame, error) {
	if m.err != nil && m.next >= len(m.frames) {
		return nil, m.err
	}
	if m.next >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.next]
	m.next++
	return &f, nil
}

func (m *mockCapture) LinkType() layers.LinkType { return m.linkType }
func (m *mockCapture) Close()                    { m.closed = true }

var errBoom = errors.New("boom")
