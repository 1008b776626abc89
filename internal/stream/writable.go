package stream

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by writes to a Writable that was closed.
	ErrClosed = errors.New("stream: writable is closed")
	// ErrAborted is the stored error of a Writable aborted without a reason.
	ErrAborted = errors.New("stream: writable aborted")
)

// Sink consumes the items written to a Writable. Its methods are never
// called concurrently: each call returns before the next one starts.
type Sink[T any] interface {
	Write(ctx context.Context, item T) error
	Close(ctx context.Context) error
	Abort(reason error) error
}

// Writer is the producer-facing side of a write stream.
type Writer[T any] interface {
	Write(ctx context.Context, item T) error
	Close(ctx context.Context) error
	Abort(reason error) error
}

type writeState int

const (
	writable writeState = iota
	writeClosed
	writeErrored
)

// Writable serializes writes onto a Sink. A Write blocks until the sink has
// finished reacting to the item, which is the stream's backpressure. After
// the sink fails every call returns the stored error.
type Writable[T any] struct {
	mu    sync.Mutex
	sink  Sink[T]
	state writeState
	err   error

	done     chan struct{}
	doneOnce sync.Once
}

// NewWritable wraps sink.
func NewWritable[T any](sink Sink[T]) *Writable[T] {
	return &Writable[T]{sink: sink, done: make(chan struct{})}
}

func (w *Writable[T]) finish() {
	w.doneOnce.Do(func() { close(w.done) })
}

// check reports the error a call must return in the current state.
// Caller holds w.mu.
func (w *Writable[T]) check() error {
	switch w.state {
	case writeClosed:
		return ErrClosed
	case writeErrored:
		return w.err
	}
	return nil
}

// fail stores err and settles the stream. Caller holds w.mu.
func (w *Writable[T]) fail(err error) {
	w.state = writeErrored
	w.err = err
	w.finish()
}

// Write hands item to the sink. A done ctx fails the call without
// affecting the stream.
func (w *Writable[T]) Write(ctx context.Context, item T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.sink.Write(ctx, item); err != nil {
		w.fail(err)
		return err
	}
	return nil
}

// Close signals end of input and waits for the sink to finish.
func (w *Writable[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.check(); err != nil {
		return err
	}
	if err := w.sink.Close(ctx); err != nil {
		w.fail(err)
		return err
	}
	w.state = writeClosed
	w.finish()
	return nil
}

// Abort discards the stream. Aborting a settled stream is a no-op.
func (w *Writable[T]) Abort(reason error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writable {
		return nil
	}
	if reason == nil {
		reason = ErrAborted
	}
	w.fail(reason)
	return w.sink.Abort(reason)
}

// Done is closed once the stream is closed, errored or aborted.
func (w *Writable[T]) Done() <-chan struct{} {
	return w.done
}

// Err returns nil for a live or cleanly closed stream and the stored error
// otherwise.
func (w *Writable[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// MapWriter returns a Writer[T] that converts every item with f before
// handing it to w.
func MapWriter[T, U any](w Writer[U], f func(T) U) Writer[T] {
	return &mapWriter[T, U]{w: w, f: f}
}

type mapWriter[T, U any] struct {
	w Writer[U]
	f func(T) U
}

func (m *mapWriter[T, U]) Write(ctx context.Context, item T) error {
	return m.w.Write(ctx, m.f(item))
}

func (m *mapWriter[T, U]) Close(ctx context.Context) error { return m.w.Close(ctx) }
func (m *mapWriter[T, U]) Abort(reason error) error        { return m.w.Abort(reason) }
