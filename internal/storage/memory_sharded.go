package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/btree"
)

// ShardedMemoryStorage spreads keys over independently locked B-trees to cut
// lock contention between writers touching different keys.
//
// Features:
// - Shard chosen by xxhash of the key with power-of-2 masking
// - Single-key writes lock one shard, batches lock only the shards they touch
// - Cursors snapshot every shard and merge them back into key order
//
// Values are stored uncompressed.
type ShardedMemoryStorage struct {
	shards    []*memShard
	shardMask uint64
	closed    atomic.Bool

	maxMemoryBytes int64
	totalBytes     atomic.Int64
	keyCount       atomic.Int64
	batchCount     atomic.Int64
	openCursors    atomic.Int64
}

// memShard is a single shard with its own lock
type memShard struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*memItem]
}

// NewShardedMemoryStorage creates a sharded memory storage.
// shardCount is rounded up to a power of 2 (0 = 16).
func NewShardedMemoryStorage(maxMemoryMB int64, shardCount int) (*ShardedMemoryStorage, error) {
	if maxMemoryMB < 0 {
		return nil, fmt.Errorf("invalid memory limit %dMB", maxMemoryMB)
	}
	if shardCount < 0 {
		return nil, fmt.Errorf("invalid shard count %d", shardCount)
	}
	if shardCount == 0 {
		shardCount = 16
	}
	// Round up to next power of 2 for fast masking
	shardCount = int(NextPowerOf2(uint64(shardCount)))

	s := &ShardedMemoryStorage{
		shards:         make([]*memShard, shardCount),
		shardMask:      uint64(shardCount - 1),
		maxMemoryBytes: maxMemoryMB * 1024 * 1024,
	}
	for i := range s.shards {
		s.shards[i] = &memShard{tree: newMemTree()}
	}
	return s, nil
}

// shardIndex returns the shard for a given key using hash+mask
func (s *ShardedMemoryStorage) shardIndex(key []byte) int {
	return int(xxhash.Sum64(key) & s.shardMask)
}

// Get retrieves a value from the key's shard.
func (s *ShardedMemoryStorage) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	shard := s.shards[s.shardIndex(key)]
	shard.mu.RLock()
	item, ok := shard.tree.Get(&memItem{key: key})
	shard.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.value), nil
}

// Put stores a single key-value pair.
func (s *ShardedMemoryStorage) Put(key, value []byte) error {
	return s.Batch(context.Background(), []Operation{Put(key, value)}, nil)
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *ShardedMemoryStorage) Delete(key []byte) error {
	return s.Batch(context.Background(), []Operation{Del(key)}, nil)
}

// Batch applies ops atomically with respect to cursors: every shard the
// batch touches is locked, in index order, for the whole apply.
func (s *ShardedMemoryStorage) Batch(ctx context.Context, ops []Operation, opts *WriteOptions) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(ops); err != nil {
		return err
	}

	idx := make([]int, len(ops))
	touched := make([]bool, len(s.shards))
	for i := range ops {
		idx[i] = s.shardIndex(ops[i].Key)
		touched[idx[i]] = true
	}
	for i, t := range touched {
		if t {
			s.shards[i].mu.Lock()
		}
	}
	defer func() {
		for i, t := range touched {
			if t {
				s.shards[i].mu.Unlock()
			}
		}
	}()

	items := make([]*memItem, len(ops))
	var delta int64
	for i := range ops {
		tree := s.shards[idx[i]].tree
		if old, ok := tree.Get(&memItem{key: ops[i].Key}); ok {
			delta -= old.size()
		}
		if ops[i].Kind == KindPut {
			items[i] = &memItem{
				key:      bytes.Clone(ops[i].Key),
				value:    bytes.Clone(ops[i].Value),
				origSize: len(ops[i].Value),
			}
			delta += items[i].size()
		}
	}
	if s.maxMemoryBytes > 0 && s.totalBytes.Load()+delta > s.maxMemoryBytes {
		return ErrMemoryLimit
	}

	for i := range ops {
		tree := s.shards[idx[i]].tree
		if items[i] != nil {
			old, replaced := tree.Set(items[i])
			if replaced {
				s.totalBytes.Add(items[i].size() - old.size())
			} else {
				s.keyCount.Add(1)
				s.totalBytes.Add(items[i].size())
			}
			continue
		}
		if old, deleted := tree.Delete(&memItem{key: ops[i].Key}); deleted {
			s.keyCount.Add(-1)
			s.totalBytes.Add(-old.size())
		}
	}
	s.batchCount.Add(1)
	return nil
}

// NewCursor snapshots all shards and merges them in key order.
func (s *ShardedMemoryStorage) NewCursor(opts *CursorOptions) (Cursor, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	o := normalizeCursorOptions(opts)

	lower, upper := o.bounds()
	if emptyRange(lower, upper) {
		s.openCursors.Add(1)
		return newChunkCursor(emptyStepper{}, o, func() { s.openCursors.Add(-1) }), nil
	}

	// Hold every shard so the snapshot is consistent across shards.
	for _, shard := range s.shards {
		shard.mu.RLock()
	}
	heads := make([]stepper, len(s.shards))
	for i, shard := range s.shards {
		heads[i] = newMemStepper(shard.tree.Copy(), &o, rawValue)
	}
	for _, shard := range s.shards {
		shard.mu.RUnlock()
	}

	s.openCursors.Add(1)
	return newChunkCursor(&mergeStepper{heads: heads, live: make([]bool, len(heads)), reverse: o.Reverse}, o, func() {
		s.openCursors.Add(-1)
	}), nil
}

// Close closes the storage. Open cursors keep reading their snapshot.
func (s *ShardedMemoryStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.tree = newMemTree()
		shard.mu.Unlock()
	}
	s.keyCount.Store(0)
	s.totalBytes.Store(0)
	return nil
}

// Stats aggregates statistics across shards.
func (s *ShardedMemoryStorage) Stats() StorageStats {
	return StorageStats{
		KeyCount:    s.keyCount.Load(),
		DBSize:      s.totalBytes.Load(),
		BatchCount:  s.batchCount.Load(),
		OpenCursors: s.openCursors.Load(),
	}
}

func rawValue(v []byte, _ bool) ([]byte, error) {
	return v, nil
}

// mergeStepper merges per-shard steppers. Shards partition the key space,
// so no key appears in two heads.
type mergeStepper struct {
	heads   []stepper
	live    []bool
	cur     int
	started bool
	reverse bool
}

func (m *mergeStepper) step() bool {
	if !m.started {
		m.started = true
		for i, h := range m.heads {
			m.live[i] = h.step()
		}
	} else if m.cur >= 0 {
		m.live[m.cur] = m.heads[m.cur].step()
	}

	m.cur = -1
	for i, h := range m.heads {
		if !m.live[i] {
			continue
		}
		if m.cur < 0 {
			m.cur = i
			continue
		}
		c := bytes.Compare(h.key(), m.heads[m.cur].key())
		if (!m.reverse && c < 0) || (m.reverse && c > 0) {
			m.cur = i
		}
	}
	return m.cur >= 0
}

func (m *mergeStepper) key() []byte {
	return m.heads[m.cur].key()
}

func (m *mergeStepper) value() ([]byte, error) {
	return m.heads[m.cur].value()
}

func (m *mergeStepper) err() error { return nil }

func (m *mergeStepper) release() error {
	for _, h := range m.heads {
		_ = h.release()
	}
	return nil
}
