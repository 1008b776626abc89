package storage

import (
	"bytes"
	"context"
	"sync"
)

// stepper is the engine-specific part of a cursor. The first call to step
// positions it at the first entry in cursor order, every later call moves
// one entry further. key and value are only valid until the next step.
type stepper interface {
	step() bool
	key() []byte
	value() ([]byte, error)
	err() error
	release() error
}

// chunkCursor implements Cursor on top of a stepper: chunking, limit,
// byte cap, key/value selection and the closed state live here so engines
// only have to position their native iterators.
type chunkCursor struct {
	mu      sync.Mutex
	it      stepper
	opts    CursorOptions
	count   int
	done    bool
	closed  bool
	onClose func()
}

func newChunkCursor(it stepper, opts CursorOptions, onClose func()) *chunkCursor {
	return &chunkCursor{it: it, opts: opts, onClose: onClose}
}

// NextBatch implements Cursor.
func (c *chunkCursor) NextBatch(ctx context.Context, n int) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.done {
		return []Entry{}, nil
	}
	if n <= 0 {
		n = DefaultChunkSize
	}

	out := make([]Entry, 0, min(n, 64))
	size := 0
	for len(out) < n {
		if c.opts.Limit > 0 && c.count >= c.opts.Limit {
			c.done = true
			break
		}
		if !c.it.step() {
			if err := c.it.err(); err != nil {
				return nil, err
			}
			c.done = true
			break
		}

		var e Entry
		if c.opts.Keys {
			e.Key = bytes.Clone(c.it.key())
			size += len(e.Key)
		}
		if c.opts.Values {
			v, err := c.it.value()
			if err != nil {
				return nil, err
			}
			e.Value = bytes.Clone(v)
			size += len(e.Value)
		}
		out = append(out, e)
		c.count++

		if c.opts.HighWaterMarkBytes > 0 && size >= c.opts.HighWaterMarkBytes {
			break
		}
	}
	return out, nil
}

// Close implements Cursor.
func (c *chunkCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.onClose != nil {
		c.onClose()
	}
	return c.it.release()
}

// normalizeCursorOptions returns a copy of opts with defaults applied.
// A nil opts selects full entries over the whole key space.
func normalizeCursorOptions(opts *CursorOptions) CursorOptions {
	if opts == nil {
		return CursorOptions{Keys: true, Values: true}
	}
	return *opts
}

// bounds returns the inclusive lower and exclusive upper key bound of the
// range, nil meaning unbounded.
func (o *CursorOptions) bounds() (lower, upper []byte) {
	switch {
	case o.Gt != nil:
		lower = successor(o.Gt)
	case o.Gte != nil:
		lower = o.Gte
	}
	switch {
	case o.Lt != nil:
		upper = o.Lt
	case o.Lte != nil:
		upper = successor(o.Lte)
	}
	return lower, upper
}

// emptyRange reports whether no key can satisfy the bounds.
func emptyRange(lower, upper []byte) bool {
	return lower != nil && upper != nil && bytes.Compare(lower, upper) >= 0
}

// successor returns the smallest key strictly greater than k.
func successor(k []byte) []byte {
	s := make([]byte, len(k)+1)
	copy(s, k)
	return s
}

// emptyStepper backs cursors over an empty range.
type emptyStepper struct{}

func (emptyStepper) step() bool             { return false }
func (emptyStepper) key() []byte            { return nil }
func (emptyStepper) value() ([]byte, error) { return nil, nil }
func (emptyStepper) err() error             { return nil }
func (emptyStepper) release() error         { return nil }
