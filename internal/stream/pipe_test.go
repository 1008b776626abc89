package stream

import (
	"context"
	"testing"

	"github.com/feellmoose/levelstream/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	t.Run("copies_entries_into_batches", func(t *testing.T) {
		cur := &fakeCursor{entries: entries(23)}
		r, err := NewEntryReadable(&fakeReader{cursor: cur}, &ReadOptions{HighWaterMark: 4})
		require.NoError(t, err)
		b := &fakeBatcher{}
		w, err := NewBatchWritable(b, &BatchOptions{BatchSize: 10})
		require.NoError(t, err)

		err = Pipe(context.Background(), r, MapWriter[storage.Entry, storage.WriteItem](w, func(e storage.Entry) storage.WriteItem { return e }))
		require.NoError(t, err)

		assert.Equal(t, []int{10, 10, 3}, b.sizes())
		got := b.all()
		for i, op := range got {
			assert.Equal(t, storage.Put(entries(23)[i].Key, entries(23)[i].Value), op)
		}
		assert.Equal(t, int32(1), cur.closes.Load())
		<-w.Done()
		assert.NoError(t, w.Err())
	})

	t.Run("context_cancel_cancels_both_sides", func(t *testing.T) {
		cur := &fakeCursor{infinite: true}
		r, err := NewEntryReadable(&fakeReader{cursor: cur}, &ReadOptions{HighWaterMark: 4})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		w := &recordingWriter[storage.Entry]{onWrite: func(n int) {
			if n == 10 {
				cancel()
			}
		}}

		err = Pipe(ctx, r, Writer[storage.Entry](w))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, w.items, 10)
		assert.False(t, w.closed)
		assert.ErrorIs(t, w.aborted, context.Canceled)

		<-r.Done()
		assert.ErrorIs(t, r.Err(), ErrCanceled)
		assert.Equal(t, int32(1), cur.closes.Load())
	})

	t.Run("write_error_cancels_reader", func(t *testing.T) {
		cur := &fakeCursor{infinite: true}
		r, err := NewEntryReadable(&fakeReader{cursor: cur}, &ReadOptions{HighWaterMark: 4})
		require.NoError(t, err)
		w := &recordingWriter[storage.Entry]{failAt: 3}

		err = Pipe(context.Background(), r, Writer[storage.Entry](w))
		assert.Equal(t, errBoom, err)
		assert.ErrorIs(t, r.Err(), ErrCanceled)
		assert.Equal(t, int32(1), cur.closes.Load())
		assert.Nil(t, w.aborted)
	})

	t.Run("read_error_aborts_writer", func(t *testing.T) {
		cur := &fakeCursor{fetchErr: errBoom}
		r, err := NewEntryReadable(&fakeReader{cursor: cur}, nil)
		require.NoError(t, err)
		b := &fakeBatcher{}
		w, err := NewBatchWritable(b, nil)
		require.NoError(t, err)

		err = Pipe(context.Background(), r, MapWriter[storage.Entry, storage.WriteItem](w, func(e storage.Entry) storage.WriteItem { return e }))
		assert.Equal(t, errBoom, err)
		assert.Equal(t, errBoom, w.Err())
		assert.Empty(t, b.sizes())
	})
}
