package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/feellmoose/levelstream/internal/utils/logging"
)

// DefaultHighWaterMark is the number of items a Readable buffers before it
// stops pulling from its source.
const DefaultHighWaterMark = 1000

// ErrCanceled is returned by reads on a stream that was canceled.
var ErrCanceled = errors.New("stream: canceled")

// Source produces items for a Readable.
//
// Pull is called whenever the queue is below its high water mark. Calls to
// Pull never overlap. A Pull that neither enqueues, closes nor fails is
// called again as long as there is demand.
//
// Cancel is called at most once, possibly while a Pull is in flight.
type Source[T any] interface {
	Pull(ctx context.Context, c *Controller[T]) error
	Cancel(reason error) error
}

type readState int

const (
	readable readState = iota
	closing            // source closed, queue still holds items
	closed
	errored
	canceled
)

// Readable is a demand-driven stream fed by a Source.
//
// A pump task keeps the internal queue filled up to the high water mark
// (a count of items). Consumers drain it with Read, Items or All and may
// Cancel at any time. A Readable that is neither drained nor canceled holds
// its source open.
type Readable[T any] struct {
	mu      sync.Mutex
	demand  *sync.Cond    // pump waits here for queue space
	changed chan struct{} // closed and replaced on every queue/state change
	queue   []T
	hwm     int
	state   readState
	err     error

	source    Source[T]
	ctx       context.Context
	cancelCtx context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// NewReadable starts pulling from source immediately. highWaterMark <= 0
// selects DefaultHighWaterMark.
func NewReadable[T any](source Source[T], highWaterMark int) *Readable[T] {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Readable[T]{
		changed:   make(chan struct{}),
		hwm:       highWaterMark,
		source:    source,
		ctx:       ctx,
		cancelCtx: cancel,
		done:      make(chan struct{}),
	}
	r.demand = sync.NewCond(&r.mu)

	if err := submit(r.pump); err != nil {
		r.fail(err)
	}
	return r
}

func (r *Readable[T]) pump() {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("stream: source panicked: %v", p)
			logging.Error(err, "stream pump stopped")
			r.fail(err)
		}
	}()

	c := &Controller[T]{r: r}
	for {
		r.mu.Lock()
		for r.state == readable && len(r.queue) >= r.hwm {
			r.demand.Wait()
		}
		if r.state != readable {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		if err := r.source.Pull(r.ctx, c); err != nil {
			r.fail(err)
			return
		}
	}
}

// notify wakes readers. Caller holds r.mu.
func (r *Readable[T]) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// finish marks the stream settled. Caller holds r.mu.
func (r *Readable[T]) finish() {
	r.doneOnce.Do(func() {
		r.cancelCtx()
		close(r.done)
	})
}

// fail moves a live stream to the errored state and drops queued items.
func (r *Readable[T]) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != readable && r.state != closing {
		return
	}
	r.state = errored
	r.err = err
	r.queue = nil
	r.notify()
	r.demand.Broadcast()
	r.finish()
}

// Read returns the next item. It returns io.EOF once the source closed and
// the queue is drained, the source's error if it failed, and ErrCanceled
// after Cancel. A done ctx only abandons this call; the stream stays live.
func (r *Readable[T]) Read(ctx context.Context) (T, error) {
	var zero T
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			v := r.queue[0]
			r.queue[0] = zero
			r.queue = r.queue[1:]
			if r.state == closing && len(r.queue) == 0 {
				r.state = closed
				r.finish()
			}
			r.notify()
			r.demand.Signal()
			r.mu.Unlock()
			return v, nil
		}

		switch r.state {
		case closing, closed:
			r.state = closed
			r.finish()
			r.mu.Unlock()
			return zero, io.EOF
		case errored:
			err := r.err
			r.mu.Unlock()
			return zero, err
		case canceled:
			r.mu.Unlock()
			return zero, ErrCanceled
		}

		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Cancel stops the stream, discards queued items and cancels the source.
// It returns the source's cancel error. Canceling a settled stream is a
// no-op, except that an errored stream reports its error.
func (r *Readable[T]) Cancel(reason error) error {
	r.mu.Lock()
	switch r.state {
	case closed, canceled:
		r.mu.Unlock()
		return nil
	case errored:
		err := r.err
		r.mu.Unlock()
		return err
	}
	if reason == nil {
		reason = ErrCanceled
	}
	r.state = canceled
	r.err = reason
	r.queue = nil
	r.notify()
	r.demand.Broadcast()
	r.finish()
	r.mu.Unlock()

	return r.source.Cancel(reason)
}

// Done is closed once the stream is drained, errored or canceled.
func (r *Readable[T]) Done() <-chan struct{} {
	return r.done
}

// Err reports how the stream settled: nil for a drained stream, the source
// error for an errored one, ErrCanceled for a canceled one. It is nil while
// the stream is live.
func (r *Readable[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case errored:
		return r.err
	case canceled:
		return ErrCanceled
	}
	return nil
}

// All reads every remaining item. If ctx ends first the stream is canceled.
func (r *Readable[T]) All(ctx context.Context) ([]T, error) {
	var items []T
	for {
		v, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				_ = r.Cancel(context.Cause(ctx))
			}
			return items, err
		}
		items = append(items, v)
	}
}

// Items returns an iterator over the remaining items. Breaking out of the
// loop, or ctx ending, cancels the stream. A terminal error is yielded once.
func (r *Readable[T]) Items(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := r.Read(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					_ = r.Cancel(context.Cause(ctx))
				}
				var zero T
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				_ = r.Cancel(nil)
				return
			}
		}
	}
}

// Controller is the source-facing side of a Readable.
type Controller[T any] struct {
	r *Readable[T]
}

// DesiredSize is the number of items the queue can take before reaching the
// high water mark. It is 0 once the stream is no longer live.
func (c *Controller[T]) DesiredSize() int {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	if c.r.state != readable {
		return 0
	}
	return c.r.hwm - len(c.r.queue)
}

// Enqueue appends v to the queue. Items enqueued after Close, Cancel or a
// failure are dropped.
func (c *Controller[T]) Enqueue(v T) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	if c.r.state != readable {
		return
	}
	c.r.queue = append(c.r.queue, v)
	c.r.notify()
}

// Close signals the end of the source. Readers drain the queue, then get
// io.EOF.
func (c *Controller[T]) Close() {
	r := c.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != readable {
		return
	}
	if len(r.queue) == 0 {
		r.state = closed
		r.finish()
	} else {
		r.state = closing
	}
	r.notify()
	r.demand.Broadcast()
}
