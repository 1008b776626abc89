package opid

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Generator generates unique stream IDs used to correlate log lines.
// Format: <prefix>:<timestamp>:<counter>
type Generator struct {
	prefix  string
	counter atomic.Uint64
	pool    sync.Pool
}

// NewGenerator creates a new ID generator with the given prefix
// (for example "read" or "write").
func NewGenerator(prefix string) *Generator {
	return &Generator{
		prefix: prefix,
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 48)
				return &buf
			},
		},
	}
}

// Generate creates a unique ID. Safe for concurrent use.
func (g *Generator) Generate() string {
	bufp := g.pool.Get().(*[]byte)
	buf := (*bufp)[:0]

	buf = append(buf, g.prefix...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, time.Now().UnixMilli(), 10)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, g.counter.Add(1), 10)

	id := string(buf)
	*bufp = buf
	g.pool.Put(bufp)
	return id
}

// Count returns how many IDs have been generated.
func (g *Generator) Count() uint64 {
	return g.counter.Load()
}
