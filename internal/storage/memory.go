package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/btree"
)

// ErrMemoryLimit is returned when a batch would grow an in-memory backend
// past its configured limit.
var ErrMemoryLimit = errors.New("storage: memory limit exceeded")

// MemoryStorage is an ordered in-memory store with value compression.
//
// Features:
// - Keys kept in a B-tree, cursors iterate in byte order
// - Automatic value compression (zstd) for values > 256 bytes
// - Cursors read a copy-on-write snapshot taken when they are opened
// - Batches are validated up front and applied under one write lock
// - Memory usage tracking and limits
type MemoryStorage struct {
	mu     sync.RWMutex // Batches vs snapshots
	tree   *btree.BTreeG[*memItem]
	closed atomic.Bool

	// Compression pool (reuse encoders/decoders)
	encoderPool sync.Pool
	decoderPool sync.Pool

	// Stats (atomic for lock-free tracking)
	keyCount        atomic.Int64
	batchCount      atomic.Int64
	openCursors     atomic.Int64
	currentBytes    atomic.Int64
	compressedBytes atomic.Int64 // Compressed size
	originalBytes   atomic.Int64 // Original size (before compression)

	maxMemoryBytes     int64 // Memory limit (0 = unlimited)
	compressionEnabled bool  // Enable compression for values > threshold
	compressionThresh  int   // Compress values larger than this (default: 256 bytes)
}

// memItem stores a possibly compressed value with its key
type memItem struct {
	key        []byte
	value      []byte // Compressed or raw value
	compressed bool   // Whether value is compressed
	origSize   int    // Original size before compression
}

func (it *memItem) size() int64 {
	return int64(len(it.key) + len(it.value) + 64) // key + stored value + overhead
}

func memItemLess(a, b *memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

func newMemTree() *btree.BTreeG[*memItem] {
	// Locking is done by MemoryStorage so snapshots and batches line up.
	return btree.NewBTreeGOptions(memItemLess, btree.Options{NoLocks: true})
}

// NewMemoryStorage creates a new ordered in-memory storage with compression.
// maxMemoryMB: Maximum memory in MB (0 = unlimited)
func NewMemoryStorage(maxMemoryMB int64) (*MemoryStorage, error) {
	if maxMemoryMB < 0 {
		return nil, fmt.Errorf("invalid memory limit %dMB", maxMemoryMB)
	}

	m := &MemoryStorage{
		tree:               newMemTree(),
		maxMemoryBytes:     maxMemoryMB * 1024 * 1024,
		compressionEnabled: true,
		compressionThresh:  256, // Compress values > 256 bytes
	}

	// Initialize compression pools
	m.encoderPool.New = func() interface{} {
		encoder, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest), // Fast compression for latency
			zstd.WithEncoderConcurrency(1),
		)
		return encoder
	}
	m.decoderPool.New = func() interface{} {
		decoder, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return decoder
	}

	return m, nil
}

// compress compresses data if compression is enabled and size > threshold
func (m *MemoryStorage) compress(data []byte) ([]byte, bool) {
	if !m.compressionEnabled || len(data) < m.compressionThresh {
		return data, false
	}

	encoder := m.encoderPool.Get().(*zstd.Encoder)
	defer m.encoderPool.Put(encoder)

	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)))

	// Only use compressed if it's actually smaller
	if len(compressed) < len(data) {
		return compressed, true
	}
	return data, false
}

// decompress decompresses data if it was compressed
func (m *MemoryStorage) decompress(data []byte, wasCompressed bool) ([]byte, error) {
	if !wasCompressed {
		return data, nil
	}

	decoder := m.decoderPool.Get().(*zstd.Decoder)
	defer m.decoderPool.Put(decoder)

	decompressed, err := decoder.DecodeAll(data, make([]byte, 0, len(data)*2))
	if err != nil {
		return nil, fmt.Errorf("decompress value: %w", err)
	}
	return decompressed, nil
}

func (m *MemoryStorage) newItem(key, value []byte) *memItem {
	stored, compressed := m.compress(value)
	if !compressed {
		// The caller may reuse its buffer after the batch returns.
		stored = bytes.Clone(value)
	}
	return &memItem{
		key:        bytes.Clone(key),
		value:      stored,
		compressed: compressed,
		origSize:   len(value),
	}
}

// Get retrieves a value with automatic decompression.
func (m *MemoryStorage) Get(key []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	m.mu.RLock()
	item, ok := m.tree.Get(&memItem{key: key})
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	value, err := m.decompress(item.value, item.compressed)
	if err != nil {
		return nil, err
	}
	// Return copy to prevent external modifications
	return bytes.Clone(value), nil
}

// Put stores a single key-value pair.
func (m *MemoryStorage) Put(key, value []byte) error {
	return m.Batch(context.Background(), []Operation{Put(key, value)}, nil)
}

// Delete removes a key. Deleting a missing key is not an error.
func (m *MemoryStorage) Delete(key []byte) error {
	return m.Batch(context.Background(), []Operation{Del(key)}, nil)
}

// Batch applies ops atomically: either every operation is visible to later
// cursors or none is. WriteOptions are accepted for interface parity; an
// in-memory store has nothing to sync.
func (m *MemoryStorage) Batch(ctx context.Context, ops []Operation, opts *WriteOptions) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(ops); err != nil {
		return err
	}

	// Compress outside the lock
	items := make([]*memItem, len(ops))
	for i := range ops {
		if ops[i].Kind == KindPut {
			items[i] = m.newItem(ops[i].Key, ops[i].Value)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxMemoryBytes > 0 {
		if m.currentBytes.Load()+m.batchDelta(ops, items) > m.maxMemoryBytes {
			return ErrMemoryLimit
		}
	}

	for i := range ops {
		if ops[i].Kind == KindPut {
			m.set(items[i])
		} else {
			m.remove(ops[i].Key)
		}
	}
	m.batchCount.Add(1)
	return nil
}

// batchDelta estimates the memory change of a batch. Caller holds m.mu.
func (m *MemoryStorage) batchDelta(ops []Operation, items []*memItem) int64 {
	var delta int64
	for i := range ops {
		old, exists := m.tree.Get(&memItem{key: ops[i].Key})
		if exists {
			delta -= old.size()
		}
		if items[i] != nil {
			delta += items[i].size()
		}
	}
	return delta
}

// set inserts or replaces item. Caller holds m.mu.
func (m *MemoryStorage) set(item *memItem) {
	old, replaced := m.tree.Set(item)
	if replaced {
		m.currentBytes.Add(item.size() - old.size())
		m.compressedBytes.Add(int64(len(item.value) - len(old.value)))
		m.originalBytes.Add(int64(item.origSize - old.origSize))
		return
	}
	m.keyCount.Add(1)
	m.currentBytes.Add(item.size())
	m.compressedBytes.Add(int64(len(item.value)))
	m.originalBytes.Add(int64(item.origSize))
}

// remove deletes key if present. Caller holds m.mu.
func (m *MemoryStorage) remove(key []byte) {
	old, deleted := m.tree.Delete(&memItem{key: key})
	if !deleted {
		return
	}
	m.keyCount.Add(-1)
	m.currentBytes.Add(-old.size())
	m.compressedBytes.Add(-int64(len(old.value)))
	m.originalBytes.Add(-int64(old.origSize))
}

// NewCursor opens a cursor over a snapshot of the current contents.
// FillCache is ignored.
func (m *MemoryStorage) NewCursor(opts *CursorOptions) (Cursor, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	o := normalizeCursorOptions(opts)

	m.mu.RLock()
	snapshot := m.tree.Copy()
	m.mu.RUnlock()

	m.openCursors.Add(1)
	return newChunkCursor(newMemStepper(snapshot, &o, m.decompress), o, func() {
		m.openCursors.Add(-1)
	}), nil
}

// Close closes the storage. Open cursors keep reading their snapshot.
func (m *MemoryStorage) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	m.tree = newMemTree()
	m.mu.Unlock()
	m.keyCount.Store(0)
	m.currentBytes.Store(0)
	m.compressedBytes.Store(0)
	m.originalBytes.Store(0)
	return nil
}

// Stats returns storage statistics with compression info.
func (m *MemoryStorage) Stats() StorageStats {
	return StorageStats{
		KeyCount:     m.keyCount.Load(),
		DBSize:       m.currentBytes.Load(),
		BatchCount:   m.batchCount.Load(),
		OpenCursors:  m.openCursors.Load(),
		CompressedKB: m.compressedBytes.Load() / 1024,
	}
}

// memStepper walks a B-tree snapshot inside [lower, upper).
type memStepper struct {
	iter       btree.IterG[*memItem]
	lower      []byte
	upper      []byte
	reverse    bool
	started    bool
	decompress func([]byte, bool) ([]byte, error)
}

func newMemStepper(tree *btree.BTreeG[*memItem], o *CursorOptions, decompress func([]byte, bool) ([]byte, error)) stepper {
	lower, upper := o.bounds()
	if emptyRange(lower, upper) {
		return emptyStepper{}
	}
	return &memStepper{
		iter:       tree.Iter(),
		lower:      lower,
		upper:      upper,
		reverse:    o.Reverse,
		decompress: decompress,
	}
}

func (s *memStepper) seekStart() bool {
	if !s.reverse {
		if s.lower != nil {
			return s.iter.Seek(&memItem{key: s.lower})
		}
		return s.iter.First()
	}
	if s.upper != nil && s.iter.Seek(&memItem{key: s.upper}) {
		return s.iter.Prev()
	}
	return s.iter.Last()
}

func (s *memStepper) step() bool {
	var ok bool
	switch {
	case !s.started:
		s.started = true
		ok = s.seekStart()
	case s.reverse:
		ok = s.iter.Prev()
	default:
		ok = s.iter.Next()
	}
	if !ok {
		return false
	}
	k := s.iter.Item().key
	if s.reverse {
		return s.lower == nil || bytes.Compare(k, s.lower) >= 0
	}
	return s.upper == nil || bytes.Compare(k, s.upper) < 0
}

func (s *memStepper) key() []byte {
	return s.iter.Item().key
}

func (s *memStepper) value() ([]byte, error) {
	item := s.iter.Item()
	return s.decompress(item.value, item.compressed)
}

func (s *memStepper) err() error     { return nil }
func (s *memStepper) release() error { s.iter.Release(); return nil }
