package network

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/banshee-data/velodyne.hdl/internal/lidar/parse"
)

// DefaultDataPort is the UDP port sensors send data packets to.
const DefaultDataPort = 2368

var (
	ErrNotUDP    = errors.New("frame carries no UDP datagram")
	ErrWrongPort = errors.New("datagram not addressed to the data port")
	ErrNotLidar  = errors.New("payload is not a sensor data packet")

	ErrLinkType = errors.New("unsupported capture link type")
)

// Demux extracts sensor data packets from captured link-layer frames. A
// Demux reuses its decoding buffers and is not safe for concurrent use.
type Demux struct {
	Port uint16 // 0 accepts any destination port

	eth     layers.Ethernet
	sll     layers.LinuxSLL
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	payload gopacket.Payload

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDemux returns a Demux for Ethernet frames.
func NewDemux(port uint16) *Demux {
	return NewDemuxFor(layers.LayerTypeEthernet, port)
}

// NewDemuxFor returns a Demux whose frames start with the given layer,
// which must be Ethernet, Linux SLL, IPv4 or IPv6.
func NewDemuxFor(first gopacket.LayerType, port uint16) *Demux {
	d := &Demux{Port: port, decoded: make([]gopacket.LayerType, 0, 5)}
	d.parser = gopacket.NewDecodingLayerParser(first, &d.eth, &d.sll, &d.ip4, &d.ip6, &d.udp, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

// NewDemuxForLink returns a Demux for frames of a capture with the given
// link type.
func NewDemuxForLink(lt layers.LinkType, port uint16) (*Demux, error) {
	first, err := firstLayer(lt)
	if err != nil {
		return nil, err
	}
	return NewDemuxFor(first, port), nil
}

// firstLayer maps a capture link type to the layer its frames start with.
// Raw captures are taken as IPv4, the only family sensors send on.
func firstLayer(lt layers.LinkType) (gopacket.LayerType, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return layers.LayerTypeIPv4, nil
	case layers.LinkTypeIPv6:
		return layers.LayerTypeIPv6, nil
	}
	return gopacket.LayerTypeZero, fmt.Errorf("%w: %s (%d)", ErrLinkType, lt, uint8(lt))
}

// Payload returns the UDP payload of frame when it is a data packet sent to
// the configured port. The returned slice aliases frame.
func (d *Demux) Payload(frame []byte) ([]byte, error) {
	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotUDP, err)
	}

	hasUDP := false
	for _, lt := range d.decoded {
		if lt == layers.LayerTypeUDP {
			hasUDP = true
			break
		}
	}
	if !hasUDP {
		return nil, ErrNotUDP
	}
	if d.Port != 0 && uint16(d.udp.DstPort) != d.Port {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongPort, d.udp.DstPort, d.Port)
	}

	payload := d.udp.Payload
	if !parse.IsLidarPacket(payload) {
		return nil, fmt.Errorf("%w (%d bytes)", ErrNotLidar, len(payload))
	}
	return payload, nil
}

// BPFFilter returns the capture filter matching the demux port.
func (d *Demux) BPFFilter() string {
	if d.Port == 0 {
		return "udp"
	}
	return fmt.Sprintf("udp dst port %d", d.Port)
}
