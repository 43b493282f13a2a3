// Package capture implements the legacy libpcap file framing: a 24-byte
// global header followed by a stream of 16-byte record headers each
// immediately followed by the captured bytes.
//
// Unlike github.com/google/gopacket/pcapgo, this codec preserves the
// input's declared byte order across a read-then-write round trip and
// echoes the global header verbatim on write, which the engine's
// forwarding path depends on.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	magicNative  uint32 = 0xa1b2c3d4
	magicSwapped uint32 = 0xd4c3b2a1

	globalHeaderLen = 24
	frameHeaderLen  = 16

	// LinkTypeEthernet is the only link-layer type the decoder understands.
	LinkTypeEthernet uint32 = 1
)

// ErrBadMagic is returned when a stream does not start with a recognised
// pcap magic number.
var ErrBadMagic = errors.New("capture: unrecognised magic number")

// ErrFrameTooLarge is returned when a frame's declared captured length
// exceeds the stream's snaplen or the hard 65535-byte ceiling.
var ErrFrameTooLarge = errors.New("capture: frame exceeds snaplen")

// ErrShortHeader is returned when a read terminates inside a header.
var ErrShortHeader = errors.New("capture: short header")

// GlobalHeader is the file-level header, kept in the byte order it was
// read in (the raw field values, not the endianness tag, is what callers
// normally want; Swapped only matters for verbatim re-emission).
type GlobalHeader struct {
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	LinkType     uint32
	Swapped      bool
	raw          [globalHeaderLen]byte
}

// Frame is one captured record: a timestamp, the originally captured
// length, and the bytes actually stored (len(Data) == InclLen).
type Frame struct {
	TimestampSec  uint32
	TimestampUsec uint32
	OrigLen       uint32
	Data          []byte
}

// Reader decodes a capture stream frame by frame.
type Reader struct {
	r      io.Reader
	header GlobalHeader
}

// NewReader reads and validates the 24-byte global header, then returns
// a Reader positioned at the first frame.
func NewReader(r io.Reader) (*Reader, error) {
	var buf [globalHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("capture: reading global header: %w", ErrShortHeader)
		}
		return nil, fmt.Errorf("capture: reading global header: %w", err)
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	var swapped bool
	switch magic {
	case magicNative:
		swapped = false
	case magicSwapped:
		swapped = true
	default:
		return nil, fmt.Errorf("capture: magic 0x%08x: %w", magic, ErrBadMagic)
	}

	order := byteOrder(swapped)
	hdr := GlobalHeader{
		VersionMajor: order.Uint16(buf[4:6]),
		VersionMinor: order.Uint16(buf[6:8]),
		ThisZone:     int32(order.Uint32(buf[8:12])),
		SigFigs:      order.Uint32(buf[12:16]),
		SnapLen:      order.Uint32(buf[16:20]),
		LinkType:     order.Uint32(buf[20:24]),
		Swapped:      swapped,
	}
	copy(hdr.raw[:], buf[:])

	return &Reader{r: r, header: hdr}, nil
}

// Header returns the parsed global header.
func (r *Reader) Header() GlobalHeader { return r.header }

// byteOrder returns the binary.ByteOrder that converts on-wire bytes for
// this stream into host-native values: LittleEndian when the file's
// declared order matches the reader's in-memory order after the magic
// check (native), BigEndian when it doesn't (swapped). Both pcap byte
// orders are little-endian on the wire for a little-endian-native writer,
// so swapped files were written big-endian relative to us.
func byteOrder(swapped bool) binary.ByteOrder {
	if swapped {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Next reads and returns the next frame, or io.EOF at a clean end of
// stream. A frame whose declared incl_len exceeds the stream's snaplen
// or 65535 bytes is reported as ErrFrameTooLarge without consuming
// further bytes (the stream is no longer trustworthy past this point).
func (r *Reader) Next() (Frame, error) {
	var buf [frameHeaderLen]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("capture: reading frame header: %w", ErrShortHeader)
	}

	order := byteOrder(r.header.Swapped)
	tsSec := order.Uint32(buf[0:4])
	tsUsec := order.Uint32(buf[4:8])
	inclLen := order.Uint32(buf[8:12])
	origLen := order.Uint32(buf[12:16])

	limit := r.header.SnapLen
	if limit == 0 || limit > 65535 {
		limit = 65535
	}
	if inclLen > limit || inclLen > 65535 {
		return Frame{}, fmt.Errorf("capture: incl_len %d: %w", inclLen, ErrFrameTooLarge)
	}

	data := make([]byte, inclLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return Frame{}, fmt.Errorf("capture: reading frame body: %w", err)
	}

	return Frame{
		TimestampSec:  tsSec,
		TimestampUsec: tsUsec,
		OrigLen:       origLen,
		Data:          data,
	}, nil
}

// Writer serialises a capture stream, writing the upstream global header
// verbatim and serialising concurrent frame writes under a single mutex
// so forwards from different workers never interleave.
type Writer struct {
	w       io.Writer
	mu      sync.Mutex
	wrote   bool
	swapped bool
}

// NewWriter wraps w for frame output. WriteHeader must be called exactly
// once before any WriteFrame call.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the global header exactly as it was read, preserving
// the original endianness and every field including reserved ones.
func (w *Writer) WriteHeader(h GlobalHeader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(h.raw[:]); err != nil {
		return fmt.Errorf("capture: writing global header: %w", err)
	}
	w.wrote = true
	w.swapped = h.Swapped
	return nil
}

// WriteFrame appends one record. incl_len and orig_len are both set to
// len(f.Data): the pipeline never forwards a truncated frame. Frame
// headers are encoded in the same byte order as the global header this
// Writer was opened with, so a stream read with a swapped-endian reader
// round-trips through the pipeline without changing its declared order.
func (w *Writer) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.wrote {
		return fmt.Errorf("capture: WriteFrame before WriteHeader")
	}

	order := byteOrder(w.swapped)
	var buf [frameHeaderLen]byte
	n := uint32(len(f.Data))
	order.PutUint32(buf[0:4], f.TimestampSec)
	order.PutUint32(buf[4:8], f.TimestampUsec)
	order.PutUint32(buf[8:12], n)
	order.PutUint32(buf[12:16], n)

	if _, err := w.w.Write(buf[:]); err != nil {
		return fmt.Errorf("capture: writing frame header: %w", err)
	}
	if _, err := w.w.Write(f.Data); err != nil {
		return fmt.Errorf("capture: writing frame body: %w", err)
	}
	return nil
}

// RawHeader exposes the exact 24 bytes read for this stream, for callers
// that need to hand it to another Writer without going through
// GlobalHeader's parsed fields (e.g. a live-source bridge).
func (h GlobalHeader) RawHeader() [globalHeaderLen]byte { return h.raw }

// NewGlobalHeader builds a header for streams not backed by a prior read
// (e.g. the fixture generator), always in native byte order.
func NewGlobalHeader(snapLen uint32, linkType uint32) GlobalHeader {
	h := GlobalHeader{
		VersionMajor: 2,
		VersionMinor: 4,
		SnapLen:      snapLen,
		LinkType:     linkType,
	}
	binary.LittleEndian.PutUint32(h.raw[0:4], magicNative)
	binary.LittleEndian.PutUint16(h.raw[4:6], h.VersionMajor)
	binary.LittleEndian.PutUint16(h.raw[6:8], h.VersionMinor)
	binary.LittleEndian.PutUint32(h.raw[8:12], 0)
	binary.LittleEndian.PutUint32(h.raw[12:16], 0)
	binary.LittleEndian.PutUint32(h.raw[16:20], snapLen)
	binary.LittleEndian.PutUint32(h.raw[20:24], linkType)
	return h
}
