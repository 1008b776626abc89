package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feellmoose/levelstream/internal/storage"
)

var (
	errBoom  = errors.New("boom")
	errClose = errors.New("close failed")
)

func entries(n int) []storage.Entry {
	out := make([]storage.Entry, n)
	for i := range out {
		out[i] = storage.Entry{
			Key:   []byte(fmt.Sprintf("k%04d", i)),
			Value: []byte(fmt.Sprintf("v%04d", i)),
		}
	}
	return out
}

// fakeCursor serves entries in chunks. With infinite set it never ends.
type fakeCursor struct {
	mu       sync.Mutex
	entries  []storage.Entry
	pos      int
	infinite bool
	fetchErr error
	closeErr error

	started chan struct{} // receives a value when a fetch begins, if set
	block   chan struct{} // fetches wait for it to close, if set

	sizes    []int
	fetches  atomic.Int32
	returned atomic.Int32
	closes   atomic.Int32
}

func (c *fakeCursor) NextBatch(ctx context.Context, n int) ([]storage.Entry, error) {
	c.fetches.Add(1)
	defer c.returned.Add(1)

	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	if c.block != nil {
		<-c.block
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sizes = append(c.sizes, n)
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if n <= 0 {
		n = storage.DefaultChunkSize
	}

	out := []storage.Entry{}
	for len(out) < n {
		if c.infinite {
			out = append(out, storage.Entry{Key: []byte(fmt.Sprintf("k%08d", c.pos))})
			c.pos++
			continue
		}
		if c.pos >= len(c.entries) {
			break
		}
		out = append(out, c.entries[c.pos])
		c.pos++
	}
	return out, nil
}

func (c *fakeCursor) Close() error {
	c.closes.Add(1)
	return c.closeErr
}

func (c *fakeCursor) requestedSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.sizes...)
}

// fakeReader hands out one cursor and records the options it was opened with.
type fakeReader struct {
	cursor *fakeCursor
	opts   *storage.CursorOptions
	err    error
}

func (r *fakeReader) NewCursor(opts *storage.CursorOptions) (storage.Cursor, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.opts = opts
	return r.cursor, nil
}

// fakeBatcher records every batch and the peak number of concurrent calls.
type fakeBatcher struct {
	mu      sync.Mutex
	batches [][]storage.Operation
	opts    []*storage.WriteOptions
	delay   time.Duration
	err     error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (b *fakeBatcher) Batch(ctx context.Context, ops []storage.Operation, opts *storage.WriteOptions) error {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		m := b.maxInflight.Load()
		if n <= m || b.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, append([]storage.Operation(nil), ops...))
	b.opts = append(b.opts, opts)
	return b.err
}

func (b *fakeBatcher) sizes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.batches))
	for i, batch := range b.batches {
		out[i] = len(batch)
	}
	return out
}

func (b *fakeBatcher) all() []storage.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []storage.Operation
	for _, batch := range b.batches {
		out = append(out, batch...)
	}
	return out
}

// recordingWriter collects items and can fail or run a hook on a given write.
type recordingWriter[T any] struct {
	mu      sync.Mutex
	items   []T
	failAt  int
	onWrite func(n int)
	closed  bool
	aborted error
}

func (w *recordingWriter[T]) Write(ctx context.Context, item T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, item)
	n := len(w.items)
	if w.onWrite != nil {
		w.onWrite(n)
	}
	if w.failAt > 0 && n == w.failAt {
		return errBoom
	}
	return nil
}

func (w *recordingWriter[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter[T]) Abort(reason error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted = reason
	return nil
}
