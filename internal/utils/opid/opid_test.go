package opid

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g := NewGenerator("read")

	id := g.Generate()
	parts := strings.Split(id, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "read", parts[0])
	assert.Equal(t, "1", parts[2])
	assert.Equal(t, uint64(1), g.Count())
}

func TestGenerateConcurrentUnique(t *testing.T) {
	g := NewGenerator("write")

	const workers, perWorker = 8, 500
	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, uint64(workers*perWorker), g.Count())
}
