// Package reader drains a capture source frame by frame, decodes each
// one far enough to get a five-tuple, and routes it to one of L
// dispatchers by hashing that tuple.
package reader

import (
	"errors"
	"io"
	"log"
	"sync/atomic"

	"dpisieve/internal/frame"
	"dpisieve/internal/tuplehash"
	"dpisieve/internal/workitem"
	"dpisieve/internal/workqueue"
	"dpisieve/pkg/capture"
)

// Source is the minimal surface the reader needs. capture.Reader
// implements it against a file; internal/livesource implements it
// against a NATS subject.
type Source interface {
	Header() capture.GlobalHeader
	Next() (capture.Frame, error)
}

// Reader pulls frames from a Source, decodes them, and fans them out to
// dispatcher input queues.
type Reader struct {
	src         Source
	dispatchers []*workqueue.Queue

	nextID uint64

	read      atomic.Uint64
	forwarded atomic.Uint64
	skipped   atomic.Uint64
}

// New returns a reader over src, fanning decoded frames out across
// dispatchers by hash(tuple) % len(dispatchers).
func New(src Source, dispatchers []*workqueue.Queue) *Reader {
	return &Reader{src: src, dispatchers: dispatchers}
}

// Header exposes the source's global header, so the engine can hand it to
// the writer before the pipeline starts moving frames.
func (r *Reader) Header() capture.GlobalHeader { return r.src.Header() }

// Run reads until the source is exhausted or returns a non-EOF error.
// A frame that fails to decode (truncated header, non-IPv4, unsupported
// transport) is counted as skipped and the reader moves on to the next
// one; only a read error from the source itself stops the loop, per the
// three-tier error handling: structural source failures abort, per-frame
// defects are counted and skipped.
func (r *Reader) Run() error {
	log.Println("reader started")
	for {
		f, err := r.src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("reader finished: read=%d forwarded=%d skipped=%d", r.read.Load(), r.forwarded.Load(), r.skipped.Load())
				return nil
			}
			return err
		}
		r.read.Add(1)
		r.process(f)
	}
}

func (r *Reader) process(f capture.Frame) {
	d, err := frame.Decode(f.Data)
	if err != nil {
		r.skipped.Add(1)
		return
	}

	item := workitem.Item{
		ID:            r.nextID,
		TimestampSec:  f.TimestampSec,
		TimestampUsec: f.TimestampUsec,
		Data:          f.Data,
		Tuple:         d.Tuple,
		TCPFlags:      d.TCPFlags,
		PayloadOffset: d.PayloadOffset,
		PayloadLength: d.PayloadLength,
	}
	r.nextID++

	idx := tuplehash.Mod(d.Tuple, len(r.dispatchers))
	r.dispatchers[idx].Push(item)
	r.forwarded.Add(1)
}

// Stats summarises the reader's lifetime counters.
type Stats struct {
	Read      uint64
	Forwarded uint64
	Skipped   uint64
}

// Stats is safe to call from any goroutine concurrently with Run.
func (r *Reader) Stats() Stats {
	return Stats{Read: r.read.Load(), Forwarded: r.forwarded.Load(), Skipped: r.skipped.Load()}
}
