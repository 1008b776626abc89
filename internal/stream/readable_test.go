package stream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feellmoose/levelstream/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorReadable(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"yields_entries_in_order_and_closes_once", func(t *testing.T) {
			cur := &fakeCursor{entries: entries(25)}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, &ReadOptions{HighWaterMark: 10})
			require.NoError(t, err)

			got, err := r.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, entries(25), got)
			assert.Equal(t, int32(1), cur.closes.Load())
			assert.NoError(t, r.Err())

			_, err = r.Read(ctx)
			assert.ErrorIs(t, err, io.EOF)
			assert.NoError(t, r.Cancel(nil))
			assert.Equal(t, int32(1), cur.closes.Load())

			for _, n := range cur.requestedSizes() {
				assert.Greater(t, n, 0)
				assert.LessOrEqual(t, n, 10)
			}
		}},
		{"empty_cursor_ends_immediately", func(t *testing.T) {
			cur := &fakeCursor{}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, nil)
			require.NoError(t, err)

			_, err = r.Read(ctx)
			assert.ErrorIs(t, err, io.EOF)
			<-r.Done()
			assert.Equal(t, int32(1), cur.closes.Load())
			assert.Equal(t, []int{DefaultHighWaterMark}, cur.requestedSizes())
		}},
		{"fetch_error_closes_before_surfacing", func(t *testing.T) {
			cur := &fakeCursor{fetchErr: errBoom}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, nil)
			require.NoError(t, err)

			_, err = r.Read(ctx)
			assert.Equal(t, errBoom, err)
			assert.Equal(t, int32(1), cur.closes.Load())
			assert.Equal(t, errBoom, r.Err())
			assert.Equal(t, errBoom, r.Cancel(nil))
			assert.Equal(t, int32(1), cur.closes.Load())
		}},
		{"close_error_at_end_fails_stream", func(t *testing.T) {
			cur := &fakeCursor{entries: entries(2), closeErr: errClose}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, nil)
			require.NoError(t, err)

			_, err = r.All(ctx)
			assert.ErrorIs(t, err, errClose)
			assert.Equal(t, int32(1), cur.closes.Load())
		}},
		{"cancel_closes_cursor", func(t *testing.T) {
			cur := &fakeCursor{infinite: true}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, &ReadOptions{HighWaterMark: 4})
			require.NoError(t, err)

			_, err = r.Read(ctx)
			require.NoError(t, err)
			require.NoError(t, r.Cancel(nil))
			require.NoError(t, r.Cancel(nil))

			<-r.Done()
			assert.Equal(t, int32(1), cur.closes.Load())
			assert.ErrorIs(t, r.Err(), ErrCanceled)
			_, err = r.Read(ctx)
			assert.ErrorIs(t, err, ErrCanceled)
		}},
		{"chunk_fetched_during_cancel_is_discarded", func(t *testing.T) {
			cur := &fakeCursor{
				entries: entries(5),
				started: make(chan struct{}, 1),
				block:   make(chan struct{}),
			}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, nil)
			require.NoError(t, err)

			<-cur.started
			require.NoError(t, r.Cancel(nil))
			assert.Equal(t, int32(1), cur.closes.Load())

			close(cur.block)
			require.Eventually(t, func() bool { return cur.returned.Load() == 1 }, time.Second, time.Millisecond)

			_, err = r.Read(ctx)
			assert.ErrorIs(t, err, ErrCanceled)

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, int32(1), cur.fetches.Load())
			assert.Equal(t, int32(1), cur.closes.Load())
		}},
		{"items_break_cancels", func(t *testing.T) {
			cur := &fakeCursor{entries: entries(100)}
			r, err := NewEntryReadable(&fakeReader{cursor: cur}, &ReadOptions{HighWaterMark: 8})
			require.NoError(t, err)

			n := 0
			for e, err := range r.Items(ctx) {
				require.NoError(t, err)
				assert.Equal(t, entries(100)[n], e)
				n++
				if n == 3 {
					break
				}
			}
			assert.Equal(t, 3, n)
			assert.ErrorIs(t, r.Err(), ErrCanceled)
			assert.Equal(t, int32(1), cur.closes.Load())
		}},
		{"keys_mode", func(t *testing.T) {
			reader := &fakeReader{cursor: &fakeCursor{entries: entries(3)}}
			r, err := NewKeyReadable(reader, &ReadOptions{Gte: []byte("k0001"), Limit: 5, Reverse: true, FillCache: true})
			require.NoError(t, err)

			keys, err := r.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, [][]byte{[]byte("k0000"), []byte("k0001"), []byte("k0002")}, keys)

			require.NotNil(t, reader.opts)
			assert.True(t, reader.opts.Keys)
			assert.False(t, reader.opts.Values)
			assert.Equal(t, []byte("k0001"), reader.opts.Gte)
			assert.Equal(t, 5, reader.opts.Limit)
			assert.True(t, reader.opts.Reverse)
			assert.True(t, reader.opts.FillCache)
		}},
		{"values_mode", func(t *testing.T) {
			reader := &fakeReader{cursor: &fakeCursor{entries: entries(2)}}
			r, err := NewValueReadable(reader, &ReadOptions{HighWaterMarkBytes: 64})
			require.NoError(t, err)

			values, err := r.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, [][]byte{[]byte("v0000"), []byte("v0001")}, values)
			assert.False(t, reader.opts.Keys)
			assert.True(t, reader.opts.Values)
			assert.Equal(t, 64, reader.opts.HighWaterMarkBytes)
		}},
		{"invalid_options", func(t *testing.T) {
			reader := &fakeReader{cursor: &fakeCursor{}}
			_, err := NewEntryReadable(reader, &ReadOptions{HighWaterMark: -1})
			assert.Error(t, err)
			_, err = NewEntryReadable(reader, &ReadOptions{HighWaterMarkBytes: -1})
			assert.Error(t, err)
			_, err = NewEntryReadable(nil, nil)
			assert.Error(t, err)

			_, err = NewEntryReadable(&fakeReader{err: storage.ErrClosed}, nil)
			assert.ErrorIs(t, err, storage.ErrClosed)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, tc.fn)
	}
}

// countingSource enqueues as many items as there is room for, forever.
type countingSource struct {
	next    int
	hwm     int
	over    atomic.Bool
	cancels atomic.Int32
}

func (s *countingSource) Pull(ctx context.Context, c *Controller[int]) error {
	n := c.DesiredSize()
	if n > s.hwm {
		s.over.Store(true)
	}
	for i := 0; i < n; i++ {
		c.Enqueue(s.next)
		s.next++
	}
	return nil
}

func (s *countingSource) Cancel(reason error) error {
	s.cancels.Add(1)
	return nil
}

func TestReadableBackpressure(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{hwm: 4}
	r := NewReadable[int](src, 4)

	for want := 0; want < 50; want++ {
		v, err := r.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	require.NoError(t, r.Cancel(nil))
	assert.False(t, src.over.Load())
	assert.Equal(t, int32(1), src.cancels.Load())
}

type idleSource struct{}

func (idleSource) Pull(ctx context.Context, c *Controller[int]) error {
	<-ctx.Done()
	return nil
}

func (idleSource) Cancel(reason error) error { return nil }

func TestReadableReadContext(t *testing.T) {
	r := NewReadable[int](idleSource{}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, r.Err())

	require.NoError(t, r.Cancel(nil))
	<-r.Done()
}

func TestReadableAllCancelsOnContext(t *testing.T) {
	r := NewReadable[int](idleSource{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.All(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, r.Err(), ErrCanceled)
}

type panicSource struct{}

func (panicSource) Pull(ctx context.Context, c *Controller[int]) error { panic("bad source") }
func (panicSource) Cancel(reason error) error                          { return nil }

func TestReadableSourcePanic(t *testing.T) {
	r := NewReadable[int](panicSource{}, 1)

	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad source")
	assert.False(t, errors.Is(err, io.EOF))
}
