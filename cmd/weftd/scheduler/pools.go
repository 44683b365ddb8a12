package scheduler

import (
	"context"
	"fmt"

	"github.com/weftworks/weft/common/telemetry"
)

// Pools is a set of named counting semaphores bounding node concurrency
// within one execution. Multi-pool nodes must pass names in a fixed global
// order (sdk.Capabilities.RequiredPools sorts them) so that concurrent
// acquisitions cannot deadlock each other.
type Pools struct {
	sems    map[string]chan struct{}
	metrics *telemetry.Metrics
}

// NewPools builds the semaphore set from pool name → permit count. Counts
// below one are raised to one.
func NewPools(sizes map[string]int, metrics *telemetry.Metrics) *Pools {
	sems := make(map[string]chan struct{}, len(sizes))
	for name, size := range sizes {
		if size < 1 {
			size = 1
		}
		sems[name] = make(chan struct{}, size)
	}
	return &Pools{sems: sems, metrics: metrics}
}

// Acquire takes one permit from each named pool in the given order and
// returns a release function that gives them back in reverse order. On
// cancellation, permits already held are released before the context error is
// returned.
func (p *Pools) Acquire(ctx context.Context, names []string) (func(), error) {
	held := make([]string, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-p.sems[held[i]]
			p.metrics.PoolReleased(held[i])
		}
	}

	for _, name := range names {
		sem, ok := p.sems[name]
		if !ok {
			release()
			return nil, fmt.Errorf("unknown resource pool: %s", name)
		}
		select {
		case sem <- struct{}{}:
			held = append(held, name)
			p.metrics.PoolAcquired(name)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// InUse returns the number of permits currently held in a pool.
func (p *Pools) InUse(name string) int {
	sem, ok := p.sems[name]
	if !ok {
		return 0
	}
	return len(sem)
}
