// Package flow defines the five-tuple and decoded frame types shared by
// every stage of the dispatch pipeline.
package flow

import "fmt"

// Protocol numbers recognised by the decoder.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// Tuple identifies a directed flow. IP addresses are stored in the same
// little-endian host layout the decoder produces: the 4 wire bytes read
// as a little-endian uint32, not ntohl'd and not wrapped in net.IP. Two
// tuples are equal exactly when all five fields match; the reverse
// direction of a session is a distinct Tuple value and is never
// canonicalised away.
type Tuple struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reverse swaps source and destination. Kept for symmetry with the
// reference implementation; the pipeline's hot path never calls it,
// since flows are tracked per-direction by design (see DESIGN.md).
func (t Tuple) Reverse() Tuple {
	return Tuple{SrcIP: t.DstIP, DstIP: t.SrcIP, SrcPort: t.DstPort, DstPort: t.SrcPort, Protocol: t.Protocol}
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", ip&0xff, (ip>>8)&0xff, (ip>>16)&0xff, (ip>>24)&0xff)
}

// String renders the tuple as "src:port->dst:port/proto" for logging.
func (t Tuple) String() string {
	proto := "?"
	switch t.Protocol {
	case ProtoTCP:
		proto = "tcp"
	case ProtoUDP:
		proto = "udp"
	}
	return fmt.Sprintf("%s:%d->%s:%d/%s", ipString(t.SrcIP), t.SrcPort, ipString(t.DstIP), t.DstPort, proto)
}

// ParseIPv4 converts a dotted-quad string into the little-endian wire
// layout Tuple expects. Used by rule parsing and the CLI, not the
// decode hot path.
func ParseIPv4(s string) (uint32, error) {
	var a, b, c, d uint32
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return 0, fmt.Errorf("flow: invalid IPv4 literal %q", s)
	}
	if a > 255 || b > 255 || c > 255 || d > 255 {
		return 0, fmt.Errorf("flow: invalid IPv4 literal %q", s)
	}
	if fmt.Sprintf("%d.%d.%d.%d", a, b, c, d) != s {
		return 0, fmt.Errorf("flow: invalid IPv4 literal %q", s)
	}
	return a | b<<8 | c<<16 | d<<24, nil
}

// TCP flag bits, as laid out in the flags byte of a TCP header.
const (
	TCPFlagFIN = 1 << 0
	TCPFlagSYN = 1 << 1
	TCPFlagRST = 1 << 2
	TCPFlagACK = 1 << 4
)
