package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/feellmoose/levelstream/internal/utils/logging"
	"github.com/panjf2000/ants/v2"
)

// Pump tasks of every Readable share one goroutine pool. It is unbounded:
// a pump parks while its queue is full, so a size cap would let idle
// streams starve new ones.
var (
	pumpPool     *ants.Pool
	pumpPoolErr  error
	pumpPoolOnce sync.Once
)

func initPumpPool() {
	pumpPool, pumpPoolErr = ants.NewPool(-1,
		ants.WithExpiryDuration(30*time.Second),
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			logging.Error(fmt.Errorf("panic in stream pump: %v", p), "pump pool panic")
		}),
	)
	if pumpPoolErr != nil {
		pumpPoolErr = fmt.Errorf("create pump pool: %w", pumpPoolErr)
	}
}

// submit runs task on the pump pool.
func submit(task func()) error {
	pumpPoolOnce.Do(initPumpPool)
	if pumpPoolErr != nil {
		return pumpPoolErr
	}
	if err := pumpPool.Submit(task); err != nil {
		return fmt.Errorf("schedule pump: %w", err)
	}
	return nil
}

// RunningPumps reports how many pump tasks are currently running.
func RunningPumps() int {
	pumpPoolOnce.Do(initPumpPool)
	if pumpPool == nil {
		return 0
	}
	return pumpPool.Running()
}
