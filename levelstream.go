// Package levelstream exposes ordered key-value stores as streams.
//
// Reading a store becomes a lazily produced, backpressure-aware sequence of
// entries, keys or values; writing many operations becomes a sink that
// groups them into fixed-size batches. Callers never manage buffering,
// flow control or flush timing themselves.
//
//   - EntryStream / KeyStream / ValueStream wrap one engine cursor each and
//     pull chunks from it only while the consumer has room (HighWaterMark).
//     Cancelling a stream, or the context of a Pipe, always closes the
//     cursor exactly once.
//   - BatchStream normalizes incoming items (Pair, Operation, Entry),
//     queues them and writes one batch every BatchSize items plus the
//     remainder on Close. Batches are never written concurrently.
//
// Example (copy a range from one store into another):
//
//	src, _ := levelstream.Open(&levelstream.Options{
//	    Storage: &levelstream.StorageOptions{Backend: levelstream.BackendPebble, Path: "/var/lib/app/src"},
//	})
//	defer src.Close()
//	dst, _ := levelstream.Open(nil) // in-memory
//	defer dst.Close()
//
//	entries, _ := src.EntryStream(&levelstream.ReadOptions{Gte: []byte("user:"), Lt: []byte("user;")})
//	batch, _ := dst.BatchStream(&levelstream.BatchOptions{BatchSize: 1000})
//	err := levelstream.Pipe(ctx, entries, levelstream.EntryWriter(batch))
//
// Thread-safety: DB methods are safe for concurrent use. A single stream
// may be read (or written) from several goroutines; items are still handed
// out (or applied) one at a time, in order.
package levelstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/feellmoose/levelstream/internal/storage"
	"github.com/feellmoose/levelstream/internal/stream"
	"github.com/feellmoose/levelstream/internal/utils/logging"
)

type (
	Entry        = storage.Entry
	Operation    = storage.Operation
	Pair         = storage.Pair
	Kind         = storage.Kind
	WriteItem    = storage.WriteItem
	WriteOptions = storage.WriteOptions
	Storage      = storage.Storage
	Stats        = storage.StorageStats

	ReadOptions  = stream.ReadOptions
	BatchOptions = stream.BatchOptions

	// EntryStream yields key/value entries.
	EntryStream = stream.Readable[Entry]
	// KeyStream yields keys.
	KeyStream = stream.Readable[[]byte]
	// ValueStream yields values.
	ValueStream = stream.Readable[[]byte]
	// BatchStream persists write items in fixed-size batches.
	BatchStream = stream.Writable[WriteItem]
)

const (
	KindPut    = storage.KindPut
	KindDelete = storage.KindDelete
)

var (
	ErrNotFound     = storage.ErrNotFound
	ErrClosed       = storage.ErrClosed
	ErrEmptyKey     = storage.ErrEmptyKey
	ErrMissingValue = storage.ErrMissingValue
	ErrInvalidKind  = storage.ErrInvalidKind
	ErrCanceled     = stream.ErrCanceled
	ErrStreamClosed = stream.ErrClosed
)

// Put returns a put operation.
func Put(key, value []byte) Operation { return storage.Put(key, value) }

// Del returns a delete operation.
func Del(key []byte) Operation { return storage.Del(key) }

// Normalize returns the canonical operation for item, see BatchOptions.Kind.
func Normalize(item WriteItem, defaultKind Kind) Operation {
	return storage.Normalize(item, defaultKind)
}

// StorageBackendType identifies the storage engine.
type StorageBackendType = storage.StorageBackendType

const (
	// BackendMemory is an ordered B-tree with zstd value compression.
	// Use case: tests, caches, small data sets
	BackendMemory StorageBackendType = storage.BackendMemory

	// BackendMemorySharded spreads keys over xxhash-selected B-tree shards.
	// Use case: many concurrent writers
	BackendMemorySharded StorageBackendType = storage.BackendMemorySharded

	// BackendPebble is CockroachDB's Pebble LSM.
	// Use case: production on-disk storage
	BackendPebble StorageBackendType = storage.BackendPebble

	// BackendLevelDB is goleveldb.
	// Use case: existing LevelDB data directories
	BackendLevelDB StorageBackendType = storage.BackendLevelDB
)

// StorageOptions configures the storage engine.
type StorageOptions struct {
	// Backend selects the storage implementation
	// Default: BackendMemory
	Backend StorageBackendType

	// Path is the data directory for Pebble and LevelDB.
	// Empty opens the engine on an in-memory filesystem.
	Path string

	// MaxMemoryMB limits in-memory backends (MB)
	// Default: 1024MB
	MaxMemoryMB int64

	// ShardCount sets the number of shards for MemorySharded
	// Default: 16 (rounded up to a power of 2)
	ShardCount int

	// CacheSizeMB sets the block cache of on-disk backends
	// Default: 64MB
	CacheSizeMB int64
}

// Options configures Open.
type Options struct {
	// Storage selects and configures the engine
	// Default: in-memory backend
	Storage *StorageOptions

	// LogLevel is one of "debug", "info", "warn", "error", "disabled".
	// Empty leaves the logging configuration untouched.
	LogLevel string

	// LogFormat is "json" or "text"
	// Default: "text"
	LogFormat string
}

// DB is an open store with stream constructors.
type DB struct {
	store    storage.Storage
	owned    bool
	stopOnce sync.Once
	closeErr error
}

// Open creates the configured engine. A nil opts opens an in-memory store.
func Open(opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.LogLevel != "" || opts.LogFormat != "" {
		logging.Init(&logging.LogOptions{Level: opts.LogLevel, Format: opts.LogFormat})
	}

	so := opts.Storage
	if so == nil {
		so = &StorageOptions{}
	}
	backend := so.Backend
	if backend == "" {
		backend = BackendMemory
	}

	store, err := storage.NewStorage(&storage.StorageOptions{
		Backend:     backend,
		Path:        so.Path,
		MaxMemoryMB: so.MaxMemoryMB,
		ShardCount:  so.ShardCount,
		CacheSizeMB: so.CacheSizeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	logging.Info("store opened", "backend", string(backend), "path", so.Path)
	return &DB{store: store, owned: true}, nil
}

// New wraps an engine the caller owns. Close on the returned DB does not
// close store.
func New(store Storage) *DB {
	return &DB{store: store}
}

// EntryStream opens a cursor over entries. The cursor is opened before the
// call returns.
func (db *DB) EntryStream(opts *ReadOptions) (*EntryStream, error) {
	return stream.NewEntryReadable(db.store, opts)
}

// KeyStream opens a cursor over keys.
func (db *DB) KeyStream(opts *ReadOptions) (*KeyStream, error) {
	return stream.NewKeyReadable(db.store, opts)
}

// ValueStream opens a cursor over values.
func (db *DB) ValueStream(opts *ReadOptions) (*ValueStream, error) {
	return stream.NewValueReadable(db.store, opts)
}

// BatchStream returns a write stream into the store.
func (db *DB) BatchStream(opts *BatchOptions) (*BatchStream, error) {
	return stream.NewBatchWritable(db.store, opts)
}

func (db *DB) Get(key []byte) ([]byte, error) { return db.store.Get(key) }
func (db *DB) Put(key, value []byte) error    { return db.store.Put(key, value) }
func (db *DB) Delete(key []byte) error        { return db.store.Delete(key) }

// Batch writes items as a single batch, normalized with KindPut as the
// default kind.
func (db *DB) Batch(ctx context.Context, items []WriteItem, opts *WriteOptions) error {
	ops := make([]Operation, len(items))
	for i, item := range items {
		ops[i] = storage.Normalize(item, KindPut)
	}
	return db.store.Batch(ctx, ops, opts)
}

// Stats returns engine statistics.
func (db *DB) Stats() Stats { return db.store.Stats() }

// Storage returns the underlying engine.
func (db *DB) Storage() Storage { return db.store }

// Close closes the engine if Open created it. Streams should be drained or
// canceled first.
func (db *DB) Close() error {
	db.stopOnce.Do(func() {
		if db.owned {
			db.closeErr = db.store.Close()
		}
	})
	return db.closeErr
}

// Pipe moves every item of r into w and closes w, see stream.Pipe.
func Pipe[T any](ctx context.Context, r *stream.Readable[T], w stream.Writer[T]) error {
	return stream.Pipe(ctx, r, w)
}

// EntryWriter lets an EntryStream be piped into a BatchStream.
func EntryWriter(w *BatchStream) stream.Writer[Entry] {
	return stream.MapWriter[Entry, WriteItem](w, func(e Entry) WriteItem { return e })
}

// Copy streams every entry of src in the range selected by read into dst.
func Copy(ctx context.Context, dst, src *DB, read *ReadOptions, write *BatchOptions) error {
	if dst == nil || src == nil {
		return errors.New("levelstream: nil database")
	}
	entries, err := src.EntryStream(read)
	if err != nil {
		return err
	}
	batch, err := dst.BatchStream(write)
	if err != nil {
		_ = entries.Cancel(err)
		return err
	}
	return Pipe(ctx, entries, EntryWriter(batch))
}
