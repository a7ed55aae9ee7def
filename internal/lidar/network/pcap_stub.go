//go:build !pcap
// +build !pcap

package network

import "errors"

// ErrPCAPDisabled is returned by OpenPCAP in builds without libpcap.
var ErrPCAPDisabled = errors.New("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP file reading")

// OpenPCAP is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP file reading.
func OpenPCAP(path string, port uint16) (CaptureReader, error) {
	return nil, ErrPCAPDisabled
}
