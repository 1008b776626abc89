package stream

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/feellmoose/levelstream/internal/storage"
	"github.com/feellmoose/levelstream/internal/utils/logging"
	"github.com/feellmoose/levelstream/internal/utils/opid"
)

// DefaultBatchSize is the number of operations per flush.
const DefaultBatchSize = 500

// BatchOptions configures a batch write stream.
type BatchOptions struct {
	// BatchSize is the number of queued operations that triggers a flush.
	// Default: 500
	BatchSize int

	// Kind is applied to items that do not carry their own kind.
	// Default: storage.KindPut
	Kind storage.Kind

	// WriteOptions are forwarded to every batch call untouched.
	WriteOptions *storage.WriteOptions
}

var writeIDs = opid.NewGenerator("write")

// batchSink groups normalized operations into fixed-size batch calls.
// Writable serializes calls into it, so at most one flush is in flight.
type batchSink struct {
	id    string
	store storage.Batcher
	size  int
	kind  storage.Kind
	opts  *storage.WriteOptions
	queue []storage.Operation

	flushes atomic.Int64
}

// NewBatchWritable returns a write stream that persists items into store in
// batches of opts.BatchSize, flushing the remainder on Close.
func NewBatchWritable(store storage.Batcher, opts *BatchOptions) (*Writable[storage.WriteItem], error) {
	sink, err := newBatchSink(store, opts)
	if err != nil {
		return nil, err
	}
	return NewWritable[storage.WriteItem](sink), nil
}

func newBatchSink(store storage.Batcher, opts *BatchOptions) (*batchSink, error) {
	if store == nil {
		return nil, fmt.Errorf("stream: nil store")
	}
	if opts == nil {
		opts = &BatchOptions{}
	}

	size := opts.BatchSize
	switch {
	case size < 0:
		return nil, fmt.Errorf("stream: invalid batch size %d", size)
	case size == 0:
		size = DefaultBatchSize
	}

	kind := opts.Kind
	if kind == "" {
		kind = storage.KindPut
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("stream: invalid default kind %q: %w", kind, storage.ErrInvalidKind)
	}

	s := &batchSink{
		id:    writeIDs.Generate(),
		store: store,
		size:  size,
		kind:  kind,
		opts:  opts.WriteOptions,
		queue: make([]storage.Operation, 0, min(size, 1024)),
	}
	logging.Debug("batch stream opened", "stream", s.id, "batchSize", size, "kind", string(kind))
	return s, nil
}

// Write queues item and flushes once the queue reaches the batch size.
func (s *batchSink) Write(ctx context.Context, item storage.WriteItem) error {
	s.queue = append(s.queue, storage.Normalize(item, s.kind))
	if len(s.queue) < s.size {
		return nil
	}
	return s.flush(ctx)
}

// Close flushes whatever is still queued.
func (s *batchSink) Close(ctx context.Context) error {
	if len(s.queue) > 0 {
		if err := s.flush(ctx); err != nil {
			return err
		}
	}
	logging.Debug("batch stream closed", "stream", s.id, "flushes", s.flushes.Load())
	return nil
}

// Abort drops queued operations without writing them.
func (s *batchSink) Abort(reason error) error {
	logging.Debug("batch stream aborted", "stream", s.id, "dropped", len(s.queue), "reason", reason)
	s.queue = nil
	return nil
}

// flush detaches the whole queue and writes it as one batch. A failed
// batch is not retried or re-queued.
func (s *batchSink) flush(ctx context.Context) error {
	batch := s.queue
	s.queue = make([]storage.Operation, 0, min(s.size, 1024))

	s.flushes.Add(1)
	if err := s.store.Batch(ctx, batch, s.opts); err != nil {
		logging.Error(err, "batch flush failed", "stream", s.id, "ops", len(batch))
		return err
	}
	return nil
}
