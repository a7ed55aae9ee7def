//go:build pcap
// +build pcap

package network

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/velodyne.hdl/internal/monitoring"
)

// pcapReader reads frames from a capture file through libpcap.
type pcapReader struct {
	handle *pcap.Handle
}

// OpenPCAP opens a capture file and restricts it to UDP traffic for port
// (0 for any port). This function is only available when building with the
// 'pcap' build tag.
func OpenPCAP(path string, port uint16) (CaptureReader, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}

	filter := (&Demux{Port: port}).BPFFilter()
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter '%s': %w", filter, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filter)
	return &pcapReader{handle: handle}, nil
}

func (r *pcapReader) NextFrame() (*CapturedFrame, error) {
	data, ci, err := r.handle.ReadPacketData()
	if err != nil {
		return nil, err
	}
	return &CapturedFrame{Data: data, Timestamp: ci.Timestamp}, nil
}

func (r *pcapReader) LinkType() layers.LinkType { return r.handle.LinkType() }

func (r *pcapReader) Close() { r.handle.Close() }
