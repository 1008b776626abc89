package storage

import (
	"context"
	"errors"
)

// DefaultChunkSize is the number of entries a cursor returns from NextBatch
// when the caller does not ask for a specific amount.
const DefaultChunkSize = 1000

// Entry is a single item read from a store.
// In keys-only mode Value is nil, in values-only mode Key is nil.
type Entry struct {
	Key   []byte
	Value []byte
}

// Cursor is a single-use, ordered forward iterator over stored entries.
//
// NextBatch returns up to n entries (DefaultChunkSize when n <= 0) and an
// empty slice exactly at the natural end. Close is idempotent and safe to
// call after NextBatch failed; a Close issued while NextBatch is in flight
// waits for it to return.
type Cursor interface {
	NextBatch(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// CursorOptions selects which part of each entry a cursor yields, the key
// range and engine-specific tuning hints.
type CursorOptions struct {
	Keys   bool // Yield keys
	Values bool // Yield values

	// Key range. Gt/Gte set the lower bound, Lt/Lte the upper bound.
	// When both variants of a bound are set the exclusive one wins.
	Gt, Gte []byte
	Lt, Lte []byte

	Reverse bool // Iterate from the upper bound down
	Limit   int  // Maximum number of entries over the cursor lifetime (0 = unlimited)

	// HighWaterMarkBytes caps the key+value bytes collected for one chunk.
	// At least one entry is always returned. 0 disables the cap.
	HighWaterMarkBytes int

	// FillCache asks the engine to populate its block cache with data read
	// by this cursor. Engines without a block cache ignore it.
	FillCache bool
}

// WriteOptions are forwarded verbatim to every batch call.
type WriteOptions struct {
	Sync  bool           // Wait for the engine to make the batch durable
	Extra map[string]any // Engine-specific options, passed through untouched
}

// Reader opens cursors over a store.
type Reader interface {
	NewCursor(opts *CursorOptions) (Cursor, error)
}

// Batcher persists an ordered list of operations as one unit.
// Atomicity is the engine's contract.
type Batcher interface {
	Batch(ctx context.Context, ops []Operation, opts *WriteOptions) error
}

// Storage defines the interface for an ordered key-value engine.
type Storage interface {
	Reader
	Batcher

	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Monitoring and statistics
	Stats() StorageStats

	Close() error
}

var (
	// ErrNotFound is returned when the requested key is not in the store.
	ErrNotFound = errors.New("storage: key not found")
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("storage: store is closed")
	// ErrCursorClosed is returned by NextBatch after Close.
	ErrCursorClosed = errors.New("storage: cursor is closed")
	// ErrEmptyKey is returned when an operation carries an empty key.
	ErrEmptyKey = errors.New("storage: empty key not allowed")
	// ErrMissingValue is returned when a put operation has no value set.
	ErrMissingValue = errors.New("storage: put operation without value")
	// ErrInvalidKind is returned for an operation kind other than put or del.
	ErrInvalidKind = errors.New("storage: invalid operation kind")
)

// StorageBackendType identifies the storage backend type
type StorageBackendType string

const (
	BackendMemory        StorageBackendType = "Memory"        // Single ordered tree with value compression
	BackendMemorySharded StorageBackendType = "MemorySharded" // Hash-sharded ordered trees, merged on read
	BackendPebble        StorageBackendType = "Pebble"        // CockroachDB Pebble LSM on disk
	BackendLevelDB       StorageBackendType = "LevelDB"       // goleveldb on disk
)

// StorageOptions configures the storage backend
type StorageOptions struct {
	Backend StorageBackendType

	// Path is the data directory for on-disk backends.
	// Pebble opens an in-memory filesystem when Path is empty.
	Path string

	// Memory cache options
	MaxMemoryMB int64 // Max memory for in-memory backends (default: 1024MB, 0 = default)
	ShardCount  int   // Shards for MemorySharded (default: 16, rounded up to a power of 2)

	CacheSizeMB int64 // Block cache for on-disk backends (default: 64MB)
}

// StorageStats provides runtime statistics for monitoring
type StorageStats struct {
	KeyCount     int64
	DBSize       int64
	BatchCount   int64
	OpenCursors  int64
	CompressedKB int64
}

// NextPowerOf2 rounds up to the next power of 2 (for shard sizing)
func NextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
