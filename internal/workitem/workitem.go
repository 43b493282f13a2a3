// Package workitem defines the unit of work that moves through the
// reader -> dispatcher -> worker -> writer pipeline.
package workitem

import "dpisieve/internal/flow"

// Item is one decoded frame in flight. It carries an owned copy of the
// original frame bytes; PayloadOffset/PayloadLength describe a slice
// into Data, resolved lazily rather than stored as a separate slice so
// a single Item never aliases memory two different stages could mutate
// concurrently.
type Item struct {
	ID            uint64
	TimestampSec  uint32
	TimestampUsec uint32
	Data          []byte
	Tuple         flow.Tuple
	TCPFlags      uint8
	PayloadOffset int
	PayloadLength int
}

// Payload returns the application-layer slice of Data.
func (it Item) Payload() []byte {
	return it.Data[it.PayloadOffset : it.PayloadOffset+it.PayloadLength]
}
