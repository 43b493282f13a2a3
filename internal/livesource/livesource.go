// Package livesource bridges the pipeline's reader and writer tiers to a
// NATS subject instead of a capture file, for a probe process upstream
// publishing frames and a downstream consumer subscribing to whatever
// this engine instance forwards. Unlike the teacher's probe publisher
// and subscriber, which marshal a protobuf PacketInfo message, the wire
// payload here is the capture codec's own frame encoding: nothing here
// justified generating and hand-maintaining a .pb.go file for one
// struct's worth of fields, so messages carry the same bytes
// pkg/capture already knows how to read and write.
package livesource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"dpisieve/pkg/capture"
)

const (
	msgHeader byte = 0
	msgFrame  byte = 1
	msgEnd    byte = 2
)

// Config names the NATS connection and subject this source or sink binds to.
type Config struct {
	URL     string
	Subject string
}

// Source subscribes to a NATS subject and presents the stream of frames
// published there as a reader.Source.
type Source struct {
	nc  *nats.Conn
	sub *nats.Subscription

	headerOnce sync.Once
	headerCh   chan capture.GlobalHeader
	header     capture.GlobalHeader

	frames chan capture.Frame
	errCh  chan error
	done   chan struct{}
}

// NewSource connects to cfg.URL and subscribes to cfg.Subject. Header
// blocks until the publisher's header message arrives; Next does not
// wait for the header and returns frames as they are received.
func NewSource(cfg Config) (*Source, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("livesource: connecting to %s: %w", cfg.URL, err)
	}
	log.Printf("livesource: connected to %s, subscribing to %s", cfg.URL, cfg.Subject)

	s := &Source{
		nc:       nc,
		headerCh: make(chan capture.GlobalHeader, 1),
		frames:   make(chan capture.Frame, 256),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}

	sub, err := nc.Subscribe(cfg.Subject, s.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("livesource: subscribing to %s: %w", cfg.Subject, err)
	}
	s.sub = sub
	return s, nil
}

func (s *Source) onMessage(msg *nats.Msg) {
	if len(msg.Data) == 0 {
		return
	}
	switch msg.Data[0] {
	case msgHeader:
		h, err := decodeHeaderMsg(msg.Data[1:])
		if err != nil {
			log.Printf("livesource: bad header message: %v", err)
			return
		}
		s.headerOnce.Do(func() { s.headerCh <- h })
	case msgFrame:
		f, err := decodeFrameMsg(msg.Data[1:])
		if err != nil {
			log.Printf("livesource: bad frame message: %v", err)
			return
		}
		select {
		case s.frames <- f:
		case <-s.done:
		}
	case msgEnd:
		select {
		case s.errCh <- io.EOF:
		default:
		}
	}
}

// Header blocks until the publisher's header message arrives.
func (s *Source) Header() capture.GlobalHeader {
	if s.header != (capture.GlobalHeader{}) {
		return s.header
	}
	s.header = <-s.headerCh
	return s.header
}

// Next returns the next frame published to the subject, or io.EOF once
// the publisher sends an end-of-stream message.
func (s *Source) Next() (capture.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errCh:
		return capture.Frame{}, err
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *Source) Close() {
	close(s.done)
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}

// Sink publishes WriteHeader/WriteFrame calls onto a NATS subject as a
// writer.Sink, for streaming the pipeline's forwarded output live
// instead of a capture file.
type Sink struct {
	nc      *nats.Conn
	subject string
}

// NewSink connects to cfg.URL for publishing to cfg.Subject.
func NewSink(cfg Config) (*Sink, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("livesource: connecting to %s: %w", cfg.URL, err)
	}
	log.Printf("livesource: connected to %s, publishing to %s", cfg.URL, cfg.Subject)
	return &Sink{nc: nc, subject: cfg.Subject}, nil
}

// WriteHeader publishes the global header as an ordinary first message;
// it is not retained, so subscribers that connect after it is sent miss
// it, the same at-most-once constraint core NATS (no JetStream) always has.
func (s *Sink) WriteHeader(h capture.GlobalHeader) error {
	raw := h.RawHeader()
	payload := append([]byte{msgHeader}, raw[:]...)
	return s.nc.Publish(s.subject, payload)
}

// WriteFrame publishes one frame message.
func (s *Sink) WriteFrame(f capture.Frame) error {
	return s.nc.Publish(s.subject, encodeFrameMsg(f))
}

// End publishes the end-of-stream marker and flushes the connection.
func (s *Sink) End() error {
	if err := s.nc.Publish(s.subject, []byte{msgEnd}); err != nil {
		return err
	}
	return s.nc.Flush()
}

// Close drains and closes the NATS connection.
func (s *Sink) Close() {
	if s.nc != nil {
		s.nc.Drain()
	}
}

var errShortMessage = errors.New("livesource: truncated message")

func decodeHeaderMsg(b []byte) (capture.GlobalHeader, error) {
	if len(b) != 24 {
		return capture.GlobalHeader{}, errShortMessage
	}
	// The 24 raw bytes round-trip through capture.NewReader so this
	// stays the single place that knows how to parse them.
	r, err := capture.NewReader(&byteReader{b: b})
	if err != nil {
		return capture.GlobalHeader{}, err
	}
	return r.Header(), nil
}

func encodeFrameMsg(f capture.Frame) []byte {
	buf := make([]byte, 1+16+len(f.Data))
	buf[0] = msgFrame
	binary.LittleEndian.PutUint32(buf[1:5], f.TimestampSec)
	binary.LittleEndian.PutUint32(buf[5:9], f.TimestampUsec)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(f.Data)))
	binary.LittleEndian.PutUint32(buf[13:17], f.OrigLen)
	copy(buf[17:], f.Data)
	return buf
}

func decodeFrameMsg(b []byte) (capture.Frame, error) {
	if len(b) < 16 {
		return capture.Frame{}, errShortMessage
	}
	inclLen := binary.LittleEndian.Uint32(b[8:12])
	if len(b) < 16+int(inclLen) {
		return capture.Frame{}, errShortMessage
	}
	return capture.Frame{
		TimestampSec:  binary.LittleEndian.Uint32(b[0:4]),
		TimestampUsec: binary.LittleEndian.Uint32(b[4:8]),
		OrigLen:       binary.LittleEndian.Uint32(b[12:16]),
		Data:          append([]byte(nil), b[16:16+inclLen]...),
	}, nil
}

// byteReader adapts a byte slice to io.Reader for capture.NewReader.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
