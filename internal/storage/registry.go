package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownBackend is returned by NewStorage for a backend nobody registered.
var ErrUnknownBackend = errors.New("storage: backend not available")

// BackendFactory is a function that creates a storage backend from options
type BackendFactory func(opts *StorageOptions) (Storage, error)

// Global backend registry
var (
	backendRegistry   = make(map[StorageBackendType]BackendFactory)
	backendRegistryMu sync.RWMutex
)

// RegisterBackend registers a storage backend factory, replacing any
// factory already registered under the same name.
func RegisterBackend(backend StorageBackendType, factory BackendFactory) {
	backendRegistryMu.Lock()
	defer backendRegistryMu.Unlock()
	backendRegistry[backend] = factory
}

// NewStorage creates a storage backend using the registered factory.
func NewStorage(opts *StorageOptions) (Storage, error) {
	if opts == nil {
		return nil, fmt.Errorf("storage options cannot be nil")
	}

	backendRegistryMu.RLock()
	factory, exists := backendRegistry[opts.Backend]
	backendRegistryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}

	store, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", opts.Backend, err)
	}
	return store, nil
}

// AvailableBackends returns the registered backends sorted by name.
func AvailableBackends() []StorageBackendType {
	backendRegistryMu.RLock()
	defer backendRegistryMu.RUnlock()

	backends := make([]StorageBackendType, 0, len(backendRegistry))
	for backend := range backendRegistry {
		backends = append(backends, backend)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}

// IsBackendAvailable checks if a specific backend is available.
func IsBackendAvailable(backend StorageBackendType) bool {
	backendRegistryMu.RLock()
	defer backendRegistryMu.RUnlock()
	_, exists := backendRegistry[backend]
	return exists
}

// GetBackendInfo returns a human readable list of available backends
func GetBackendInfo() string {
	backends := AvailableBackends()
	if len(backends) == 0 {
		return "No storage backends available"
	}

	var b strings.Builder
	b.WriteString("Available storage backends:\n")
	for _, backend := range backends {
		fmt.Fprintf(&b, "  - %s\n", backend)
	}
	return b.String()
}
