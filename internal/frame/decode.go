// Package frame decodes a captured Ethernet frame's link, network, and
// transport headers far enough to locate the five-tuple, TCP flags, and
// the application payload. It deliberately stops short of full protocol
// decoding (no options parsing beyond header length, no reassembly) —
// everything this package doesn't need to classify a flow it leaves to
// the sniffers in internal/sniff.
package frame

import (
	"errors"
	"fmt"

	"dpisieve/internal/flow"
)

// ErrTooShort is returned whenever a header does not fit in the
// remaining bytes of the frame. It is never fatal to the pipeline: the
// reader counts and discards the frame.
var ErrTooShort = errors.New("frame: too short to decode")

// ErrNotIPv4 means the frame's EtherType was not IPv4.
var ErrNotIPv4 = errors.New("frame: not IPv4")

// ErrUnsupportedTransport means the IPv4 payload was neither TCP nor UDP.
var ErrUnsupportedTransport = errors.New("frame: unsupported transport protocol")

const (
	ethHeaderLen  = 14
	ethTypeIPv4   = 0x0800
	minIPv4Header = 20
	minTCPHeader  = 20
	udpHeaderLen  = 8
)

// Decoded is the result of decoding one frame: the five-tuple, TCP flags
// (zero for UDP), and the byte range of the application payload within
// the original frame slice that was decoded.
type Decoded struct {
	Tuple          flow.Tuple
	TCPFlags       uint8
	PayloadOffset  int
	PayloadLength  int
}

// Payload returns the application payload slice of data, which must be
// the same slice passed to Decode.
func (d Decoded) Payload(data []byte) []byte {
	return data[d.PayloadOffset : d.PayloadOffset+d.PayloadLength]
}

// Decode parses an Ethernet frame and returns its five-tuple and payload
// bounds. Any structural defect (short buffer, bad header length, non-IP,
// non-TCP/UDP) is reported as an error; the caller treats this as a
// per-frame defect to count and skip, per the error handling design.
func Decode(data []byte) (Decoded, error) {
	if len(data) < ethHeaderLen {
		return Decoded{}, fmt.Errorf("ethernet header: %w", ErrTooShort)
	}
	etherType := uint16(data[12])<<8 | uint16(data[13])
	if etherType != ethTypeIPv4 {
		return Decoded{}, ErrNotIPv4
	}

	ipStart := ethHeaderLen
	if len(data) < ipStart+minIPv4Header {
		return Decoded{}, fmt.Errorf("ipv4 header: %w", ErrTooShort)
	}
	ipByte0 := data[ipStart]
	version := ipByte0 >> 4
	if version != 4 {
		return Decoded{}, fmt.Errorf("frame: unexpected ip version %d", version)
	}
	ihl := int(ipByte0&0x0f) * 4
	if ihl < minIPv4Header || ipStart+ihl > len(data) {
		return Decoded{}, fmt.Errorf("ipv4 header length %d: %w", ihl, ErrTooShort)
	}

	protocol := data[ipStart+9]
	srcIP := leUint32(data[ipStart+12 : ipStart+16])
	dstIP := leUint32(data[ipStart+16 : ipStart+20])

	transportStart := ipStart + ihl

	var d Decoded
	d.Tuple.SrcIP = srcIP
	d.Tuple.DstIP = dstIP
	d.Tuple.Protocol = protocol

	switch protocol {
	case flow.ProtoTCP:
		if len(data) < transportStart+minTCPHeader {
			return Decoded{}, fmt.Errorf("tcp header: %w", ErrTooShort)
		}
		d.Tuple.SrcPort = beUint16(data[transportStart : transportStart+2])
		d.Tuple.DstPort = beUint16(data[transportStart+2 : transportStart+4])
		dataOffset := int(data[transportStart+12]>>4) * 4
		if dataOffset < minTCPHeader || transportStart+dataOffset > len(data) {
			return Decoded{}, fmt.Errorf("tcp header length %d: %w", dataOffset, ErrTooShort)
		}
		d.TCPFlags = data[transportStart+13]
		d.PayloadOffset = transportStart + dataOffset
	case flow.ProtoUDP:
		if len(data) < transportStart+udpHeaderLen {
			return Decoded{}, fmt.Errorf("udp header: %w", ErrTooShort)
		}
		d.Tuple.SrcPort = beUint16(data[transportStart : transportStart+2])
		d.Tuple.DstPort = beUint16(data[transportStart+2 : transportStart+4])
		d.PayloadOffset = transportStart + udpHeaderLen
	default:
		return Decoded{}, ErrUnsupportedTransport
	}

	d.PayloadLength = len(data) - d.PayloadOffset
	if d.PayloadLength < 0 {
		d.PayloadLength = 0
	}
	return d, nil
}

// leUint32 reads 4 bytes as a little-endian host word, which for an
// IPv4 address field means the byte that is most significant on the
// wire (network order, big-endian) ends up as this word's *low* byte.
// This matches the reference implementation's raw memcpy-into-uint32_t
// on a little-endian host and is the layout internal/ruleset and
// internal/flow assume.
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
