package storage

func init() {
	// Auto-register Memory backend
	RegisterBackend(BackendMemory, func(opts *StorageOptions) (Storage, error) {
		maxMem := opts.MaxMemoryMB
		if maxMem == 0 {
			maxMem = 1024 // Default: 1GB
		}
		return NewMemoryStorage(maxMem)
	})

	// Auto-register MemorySharded backend
	RegisterBackend(BackendMemorySharded, func(opts *StorageOptions) (Storage, error) {
		maxMem := opts.MaxMemoryMB
		if maxMem == 0 {
			maxMem = 1024 // Default: 1GB
		}
		return NewShardedMemoryStorage(maxMem, opts.ShardCount)
	})

	RegisterBackend(BackendPebble, func(opts *StorageOptions) (Storage, error) {
		return NewPebbleStorage(opts.Path, opts.CacheSizeMB)
	})

	RegisterBackend(BackendLevelDB, func(opts *StorageOptions) (Storage, error) {
		return NewLevelDBStorage(opts.Path, opts.CacheSizeMB)
	})
}
