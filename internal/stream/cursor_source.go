package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/feellmoose/levelstream/internal/storage"
	"github.com/feellmoose/levelstream/internal/utils/logging"
	"github.com/feellmoose/levelstream/internal/utils/opid"
)

// Mode selects what a cursor stream yields.
type Mode int

const (
	ModeEntries Mode = iota // storage.Entry with key and value
	ModeKeys                // keys only
	ModeValues              // values only
)

func (m Mode) String() string {
	switch m {
	case ModeEntries:
		return "entries"
	case ModeKeys:
		return "keys"
	case ModeValues:
		return "values"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ReadOptions configures a cursor stream and the cursor behind it.
type ReadOptions struct {
	// HighWaterMark is the maximum number of items buffered before the
	// stream stops reading from the cursor.
	// Default: 1000
	HighWaterMark int

	// HighWaterMarkBytes limits the bytes the cursor collects per chunk.
	// Forwarded to the cursor untouched. Default: 0 (no limit)
	HighWaterMarkBytes int

	// FillCache is forwarded to the cursor untouched.
	FillCache bool

	// Key range, see storage.CursorOptions.
	Gt, Gte, Lt, Lte []byte
	Reverse          bool
	Limit            int // 0 = unlimited
}

// cursorOptions derives cursor options for mode from o.
func (m Mode) cursorOptions(o *ReadOptions) *storage.CursorOptions {
	co := &storage.CursorOptions{
		Keys:               m != ModeValues,
		Values:             m != ModeKeys,
		Gt:                 o.Gt,
		Gte:                o.Gte,
		Lt:                 o.Lt,
		Lte:                o.Lte,
		Reverse:            o.Reverse,
		Limit:              o.Limit,
		HighWaterMarkBytes: o.HighWaterMarkBytes,
		FillCache:          o.FillCache,
	}
	return co
}

var readIDs = opid.NewGenerator("read")

// cursorSource adapts one storage.Cursor to a Readable source.
type cursorSource[T any] struct {
	id      string
	mode    Mode
	store   storage.Reader // referenced for the stream's lifetime, never closed here
	cursor  storage.Cursor
	project func(storage.Entry) T

	canceled  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Pull fetches up to DesiredSize entries and enqueues them in cursor order.
func (s *cursorSource[T]) Pull(ctx context.Context, c *Controller[T]) error {
	items, err := s.cursor.NextBatch(ctx, c.DesiredSize())
	if err != nil {
		_ = s.close()
		logging.Error(err, "cursor fetch failed", "stream", s.id, "mode", s.mode.String())
		return err
	}

	// Cancel owns the cursor once it has been called.
	if s.canceled.Load() {
		logging.Debug("discarding chunk fetched after cancel", "stream", s.id, "items", len(items))
		return nil
	}

	if len(items) == 0 {
		if err := s.close(); err != nil {
			return fmt.Errorf("close cursor: %w", err)
		}
		c.Close()
		return nil
	}

	for _, item := range items {
		c.Enqueue(s.project(item))
	}
	return nil
}

// Cancel marks the source canceled and closes the cursor. A fetch still in
// flight completes, but its items are dropped.
func (s *cursorSource[T]) Cancel(reason error) error {
	s.canceled.Store(true)
	logging.Debug("cursor stream canceled", "stream", s.id, "reason", reason)
	return s.close()
}

// close closes the cursor exactly once and returns that call's result on
// every invocation.
func (s *cursorSource[T]) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cursor.Close()
		logging.Debug("cursor closed", "stream", s.id, "err", s.closeErr)
	})
	return s.closeErr
}

// newCursorReadable opens a cursor for mode eagerly and wraps it in a
// Readable. All three stream flavours go through here; only project differs.
func newCursorReadable[T any](store storage.Reader, mode Mode, opts *ReadOptions, project func(storage.Entry) T) (*Readable[T], error) {
	if store == nil {
		return nil, fmt.Errorf("stream: nil store")
	}
	if opts == nil {
		opts = &ReadOptions{}
	}
	if opts.HighWaterMark < 0 {
		return nil, fmt.Errorf("stream: invalid high water mark %d", opts.HighWaterMark)
	}
	if opts.HighWaterMarkBytes < 0 {
		return nil, fmt.Errorf("stream: invalid high water mark bytes %d", opts.HighWaterMarkBytes)
	}

	cursor, err := store.NewCursor(mode.cursorOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("open %s cursor: %w", mode, err)
	}

	src := &cursorSource[T]{
		id:      readIDs.Generate(),
		mode:    mode,
		store:   store,
		cursor:  cursor,
		project: project,
	}
	logging.Debug("cursor stream opened", "stream", src.id, "mode", mode.String())
	return NewReadable[T](src, opts.HighWaterMark), nil
}

// NewEntryReadable streams key/value entries from store.
func NewEntryReadable(store storage.Reader, opts *ReadOptions) (*Readable[storage.Entry], error) {
	return newCursorReadable(store, ModeEntries, opts, func(e storage.Entry) storage.Entry { return e })
}

// NewKeyReadable streams keys from store.
func NewKeyReadable(store storage.Reader, opts *ReadOptions) (*Readable[[]byte], error) {
	return newCursorReadable(store, ModeKeys, opts, func(e storage.Entry) []byte { return e.Key })
}

// NewValueReadable streams values from store.
func NewValueReadable(store storage.Reader, opts *ReadOptions) (*Readable[[]byte], error) {
	return newCursorReadable(store, ModeValues, opts, func(e storage.Entry) []byte { return e.Value })
}
