// Package telemetry provides best-effort, fire-and-forget event emission.
// Emit never blocks the scheduler or executor: a full buffer drops the
// event, and emission failure never fails a job.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one telemetry record.
type Event struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"`
	JobID  string         `json:"job_id,omitempty"`
	DocKey string         `json:"doc_key,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink consumes drained events. Sinks run on the drain goroutine and must
// not block for long; a slow sink costs dropped events, not job latency.
type Sink func(Event)

// LogSink writes events through slog at debug level.
func LogSink(logger *slog.Logger) Sink {
	return func(ev Event) {
		logger.Debug("telemetry",
			slog.String("type", ev.Type),
			slog.String("job_id", ev.JobID),
			slog.String("doc_key", ev.DocKey),
			slog.Any("fields", ev.Fields))
	}
}

// Emitter buffers events and drains them on a single goroutine.
type Emitter struct {
	// mu serializes sends against channel close: Emit holds it shared
	// while sending, Close holds it exclusively while closing ch.
	mu      sync.RWMutex
	closed  bool
	ch      chan Event
	dropped atomic.Uint64
	sink    Sink
	done    chan struct{}
}

// NewEmitter starts an emitter with the given buffer size and sink.
func NewEmitter(buffer int, sink Sink) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	if sink == nil {
		sink = LogSink(slog.Default())
	}
	e := &Emitter{
		ch:   make(chan Event, buffer),
		sink: sink,
		done: make(chan struct{}),
	}
	go e.drain()
	return e
}

func (e *Emitter) drain() {
	defer close(e.done)
	for ev := range e.ch {
		e.sink(ev)
	}
}

// Emit enqueues an event, dropping it when the buffer is full. Emitting
// after Close drops the event instead of panicking.
func (e *Emitter) Emit(typ, jobID, docKey string, fields map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	ev := Event{Time: time.Now().UTC(), Type: typ, JobID: jobID, DocKey: docKey, Fields: fields}
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the drain loop after the buffer empties.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	e.mu.Unlock()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
