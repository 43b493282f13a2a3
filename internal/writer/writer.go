// Package writer drains the single output queue and serialises forwarded
// frames through the capture codec.
package writer

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"dpisieve/internal/workitem"
	"dpisieve/internal/workqueue"
	"dpisieve/pkg/capture"
)

// Sink is the minimal surface the writer needs: write the global header
// once, then write frames. capture.Writer implements it against a file;
// internal/livesource implements it against a NATS subject.
type Sink interface {
	WriteHeader(capture.GlobalHeader) error
	WriteFrame(capture.Frame) error
}

// Writer drains a queue of forwarded work items and serialises them.
type Writer struct {
	sink  Sink
	input *workqueue.Queue

	written atomic.Uint64
}

// New returns a writer over sink, draining input.
func New(sink Sink, input *workqueue.Queue) *Writer {
	return &Writer{sink: sink, input: input}
}

// WriteHeader must be called once before Run, with the header read from
// the input source, so output carries the same endianness and link type.
func (w *Writer) WriteHeader(h capture.GlobalHeader) error {
	return w.sink.WriteHeader(h)
}

// Run drains the queue until it shuts down and is empty.
func (w *Writer) Run(ctx context.Context) {
	log.Println("writer started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, timedOut := w.input.PopTimeout(100 * time.Millisecond)
		if timedOut {
			continue
		}
		if !ok {
			log.Printf("writer shutting down (wrote %d frames)", w.written.Load())
			return
		}
		w.writeItem(item)
	}
}

func (w *Writer) writeItem(item workitem.Item) {
	f := capture.Frame{
		TimestampSec:  item.TimestampSec,
		TimestampUsec: item.TimestampUsec,
		OrigLen:       uint32(len(item.Data)),
		Data:          item.Data,
	}
	if err := w.sink.WriteFrame(f); err != nil {
		log.Printf("writer: dropping frame %d: %v", item.ID, err)
		return
	}
	w.written.Add(1)
}

// Written reports the number of frames successfully serialised. Safe to
// call from any goroutine concurrently with Run.
func (w *Writer) Written() uint64 { return w.written.Load() }
