package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStorage is an on-disk store backed by goleveldb. Each cursor reads
// an implicit snapshot taken when it is opened.
type LevelDBStorage struct {
	db     *leveldb.DB
	closed bool
	mu     sync.RWMutex

	batchCount  atomic.Int64
	openCursors atomic.Int64
}

// NewLevelDBStorage opens (or creates) a LevelDB store in path. An empty
// path opens a store backed by memory.
func NewLevelDBStorage(path string, cacheSizeMB int64) (*LevelDBStorage, error) {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 64
	}
	o := &opt.Options{
		BlockCacheCapacity: int(cacheSizeMB * opt.MiB),
		WriteBuffer:        16 * opt.MiB,
	}

	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(lvstorage.NewMemStorage(), o)
	} else {
		db, err = leveldb.OpenFile(path, o)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb store: %w", err)
	}
	return &LevelDBStorage{db: db}, nil
}

func (l *LevelDBStorage) Get(key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (l *LevelDBStorage) Put(key, value []byte) error {
	return l.Batch(context.Background(), []Operation{Put(key, value)}, nil)
}

func (l *LevelDBStorage) Delete(key []byte) error {
	return l.Batch(context.Background(), []Operation{Del(key)}, nil)
}

// Batch writes ops as one leveldb.Batch. opts.Sync maps to WriteOptions.Sync.
func (l *LevelDBStorage) Batch(ctx context.Context, ops []Operation, opts *WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(ops); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	batch := new(leveldb.Batch)
	for i := range ops {
		if ops[i].Kind == KindPut {
			batch.Put(ops[i].Key, ops[i].Value)
		} else {
			batch.Delete(ops[i].Key)
		}
	}

	wo := &opt.WriteOptions{Sync: opts != nil && opts.Sync}
	if err := l.db.Write(batch, wo); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	l.batchCount.Add(1)
	return nil
}

// NewCursor opens a LevelDB iterator over the requested range.
// FillCache maps onto ReadOptions.DontFillCache.
func (l *LevelDBStorage) NewCursor(opts *CursorOptions) (Cursor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	o := normalizeCursorOptions(opts)
	lower, upper := o.bounds()
	var it stepper = emptyStepper{}
	if !emptyRange(lower, upper) {
		iter := l.db.NewIterator(
			&util.Range{Start: lower, Limit: upper},
			&opt.ReadOptions{DontFillCache: !o.FillCache},
		)
		it = &levelStepper{iter: iter, reverse: o.Reverse}
	}

	l.openCursors.Add(1)
	return newChunkCursor(it, o, func() { l.openCursors.Add(-1) }), nil
}

func (l *LevelDBStorage) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// Stats reports the on-disk table size; LevelDB does not track a key count.
func (l *LevelDBStorage) Stats() StorageStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := StorageStats{
		BatchCount:  l.batchCount.Load(),
		OpenCursors: l.openCursors.Load(),
	}
	if !l.closed {
		var s leveldb.DBStats
		if err := l.db.Stats(&s); err == nil {
			for _, n := range s.LevelSizes {
				stats.DBSize += n
			}
		}
	}
	return stats
}

// levelStepper positions a goleveldb iterator; bounds are enforced by the range.
type levelStepper struct {
	iter    iterator.Iterator
	reverse bool
	started bool
}

func (s *levelStepper) step() bool {
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

func (s *levelStepper) key() []byte            { return s.iter.Key() }
func (s *levelStepper) value() ([]byte, error) { return s.iter.Value(), nil }
func (s *levelStepper) err() error             { return s.iter.Error() }

func (s *levelStepper) release() error {
	s.iter.Release()
	return s.iter.Error()
}
