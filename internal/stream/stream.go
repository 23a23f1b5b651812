// Package stream implements the DataStream abstraction spec §9 asks for:
// an event-driven callback stream reimplemented as a small type with a
// terminal-event-once guarantee, observable byte progress, and
// cooperative cancellation, suited to a goroutine-per-operation runtime.
package stream

import (
	"context"
	"sync"
)

// Event is a terminal outcome delivered exactly once per DataStream.
type Event int

const (
	// EventFinished indicates the stream completed successfully.
	EventFinished Event = iota
	// EventError indicates the stream failed with a non-nil error.
	EventError
	// EventCancelled indicates the consumer cancelled before completion.
	EventCancelled
)

// DataStream is an observable, cancellable unit of work: a file download,
// a chunk fetch, or a bucket PUT. Progress is reported via BytesLoaded;
// completion is reported exactly once via Done().
type DataStream struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	bytesLoaded int64
	totalBytes  int64 // -1 if unknown
	err         error
	event       Event
	done        chan struct{}
	doneOnce    sync.Once

	onProgress []func(loaded, total int64)
}

// New creates a DataStream bound to parent's cancellation; totalBytes
// may be -1 if the size is not yet known.
func New(parent context.Context, totalBytes int64) *DataStream {
	ctx, cancel := context.WithCancel(parent)
	return &DataStream{
		ctx:        ctx,
		cancel:     cancel,
		totalBytes: totalBytes,
		done:       make(chan struct{}),
	}
}

// Context returns the stream's context; it is cancelled when Cancel is
// called or when the stream reaches a terminal state.
func (s *DataStream) Context() context.Context { return s.ctx }

// ReportProgress records additional bytes loaded and notifies observers.
func (s *DataStream) ReportProgress(delta int64) {
	s.mu.Lock()
	s.bytesLoaded += delta
	loaded, total := s.bytesLoaded, s.totalBytes
	observers := append([]func(int64, int64){}, s.onProgress...)
	s.mu.Unlock()
	for _, f := range observers {
		f(loaded, total)
	}
}

// OnProgress registers a progress observer. Not safe to call concurrently
// with ReportProgress for the *same* observer slice mutation, but may be
// called before the stream starts producing data.
func (s *DataStream) OnProgress(f func(loaded, total int64)) {
	s.mu.Lock()
	s.onProgress = append(s.onProgress, f)
	s.mu.Unlock()
}

// BytesLoaded returns the current progress counter.
func (s *DataStream) BytesLoaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesLoaded
}

// Finish marks the stream as successfully completed. A no-op if the
// stream already reached a terminal state.
func (s *DataStream) Finish() {
	s.terminate(EventFinished, nil)
}

// Fail marks the stream as failed with err. A no-op if the stream already
// reached a terminal state.
func (s *DataStream) Fail(err error) {
	s.terminate(EventError, err)
}

// Cancel requests cooperative cancellation: callers selecting on
// Context().Done() should abort and clean up (delete temp files, close
// the underlying request). Idempotent.
func (s *DataStream) Cancel() {
	s.mu.Lock()
	already := s.event != 0 || s.isDone()
	s.mu.Unlock()
	if already {
		return
	}
	s.cancel()
	s.terminate(EventCancelled, nil)
}

func (s *DataStream) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *DataStream) terminate(ev Event, err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.event = ev
		s.err = err
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	})
}

// Done returns a channel closed once the stream reaches a terminal state.
func (s *DataStream) Done() <-chan struct{} { return s.done }

// Wait blocks until the stream reaches a terminal state and returns its
// outcome.
func (s *DataStream) Wait() (Event, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event, s.err
}
