package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleStorage is an on-disk store backed by CockroachDB's Pebble.
// Cursors are Pebble iterators, batches are committed Pebble batches.
// FillCache is ignored: Pebble always reads through its block cache.
type PebbleStorage struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex

	batchCount  atomic.Int64
	openCursors atomic.Int64
}

// NewPebbleStorage opens (or creates) a Pebble store in path. An empty path
// opens a store on an in-memory filesystem.
func NewPebbleStorage(path string, cacheSizeMB int64) (*PebbleStorage, error) {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 64
	}
	cache := pebble.NewCache(cacheSizeMB * 1024 * 1024)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                32 * 1024 * 1024, // 32MB
		MemTableStopWritesThreshold: 4,
	}
	if path == "" {
		opts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

func (p *PebbleStorage) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *PebbleStorage) Put(key, value []byte) error {
	return p.Batch(context.Background(), []Operation{Put(key, value)}, &WriteOptions{Sync: true})
}

func (p *PebbleStorage) Delete(key []byte) error {
	return p.Batch(context.Background(), []Operation{Del(key)}, &WriteOptions{Sync: true})
}

// Batch commits ops as one Pebble batch. opts.Sync selects pebble.Sync.
func (p *PebbleStorage) Batch(ctx context.Context, ops []Operation, opts *WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(ops); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for i := range ops {
		var err error
		if ops[i].Kind == KindPut {
			err = batch.Set(ops[i].Key, ops[i].Value, nil)
		} else {
			err = batch.Delete(ops[i].Key, nil)
		}
		if err != nil {
			return fmt.Errorf("stage operation %d: %w", i, err)
		}
	}

	wo := pebble.NoSync
	if opts != nil && opts.Sync {
		wo = pebble.Sync
	}
	if err := batch.Commit(wo); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	p.batchCount.Add(1)
	return nil
}

// NewCursor opens a Pebble iterator over the requested range.
func (p *PebbleStorage) NewCursor(opts *CursorOptions) (Cursor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	o := normalizeCursorOptions(opts)
	lower, upper := o.bounds()
	var it stepper = emptyStepper{}
	if !emptyRange(lower, upper) {
		iter, err := p.db.NewIter(&pebble.IterOptions{
			LowerBound: lower,
			UpperBound: upper,
		})
		if err != nil {
			return nil, fmt.Errorf("create iterator: %w", err)
		}
		it = &pebbleStepper{iter: iter, reverse: o.Reverse}
	}

	p.openCursors.Add(1)
	return newChunkCursor(it, o, func() { p.openCursors.Add(-1) }), nil
}

// Close closes the store. Cursors must be closed first; Pebble reports
// leaked iterators as an error.
func (p *PebbleStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// Stats reports disk usage; Pebble does not track a key count.
func (p *PebbleStorage) Stats() StorageStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := StorageStats{
		BatchCount:  p.batchCount.Load(),
		OpenCursors: p.openCursors.Load(),
	}
	if !p.closed {
		m := p.db.Metrics()
		stats.DBSize = int64(m.DiskSpaceUsage())
	}
	return stats
}

// pebbleStepper positions a Pebble iterator; bounds are enforced by Pebble.
type pebbleStepper struct {
	iter    *pebble.Iterator
	reverse bool
	started bool
}

func (s *pebbleStepper) step() bool {
	if !s.started {
		s.started = true
		if s.reverse {
			return s.iter.Last()
		}
		return s.iter.First()
	}
	if s.reverse {
		return s.iter.Prev()
	}
	return s.iter.Next()
}

func (s *pebbleStepper) key() []byte { return s.iter.Key() }

func (s *pebbleStepper) value() ([]byte, error) {
	v, err := s.iter.ValueAndErr()
	if err != nil {
		return nil, fmt.Errorf("read iterator value: %w", err)
	}
	return v, nil
}

func (s *pebbleStepper) err() error     { return s.iter.Error() }
func (s *pebbleStepper) release() error { return s.iter.Close() }
