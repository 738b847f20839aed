package shortener

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
)

const seedTimeout = 10 * time.Second

// IDAllocator mints strictly increasing ids for new tokens.
type IDAllocator interface {
	Next(ctx context.Context) (uint64, error)
}

// SeedFunc returns the highest id already in use.
type SeedFunc func(ctx context.Context) (uint64, error)

// CounterAllocator is a process-scoped atomic counter. It is seeded lazily
// from the highest id ever minted so a restart never re-mints ids. A failed
// seed is retried by the next call. It is only safe for a single service
// instance.
type CounterAllocator struct {
	seed    SeedFunc
	mu      sync.Mutex
	seeded  atomic.Bool
	counter atomic.Uint64
}

// NewCounterAllocator creates a counter allocator. A nil seed starts at zero.
func NewCounterAllocator(seed SeedFunc) *CounterAllocator {
	return &CounterAllocator{seed: seed}
}

func (a *CounterAllocator) Next(ctx context.Context) (uint64, error) {
	if !a.seeded.Load() {
		if err := a.seedOnce(ctx); err != nil {
			return 0, err
		}
	}

	id := a.counter.Add(1)
	if id == 0 || id > math.MaxInt64 {
		return 0, ErrIDSpaceExhausted
	}

	return id, nil
}

// seedOnce runs the seed until it succeeds once. The caller's cancellation
// does not abort a seed other callers may be waiting on.
func (a *CounterAllocator) seedOnce(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seeded.Load() {
		return nil
	}

	if a.seed != nil {
		seedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), seedTimeout)
		defer cancel()

		start, err := a.seed(seedCtx)
		if err != nil {
			return err
		}

		a.counter.Store(start)
	}

	a.seeded.Store(true)

	return nil
}

// SnowflakeAllocator mints node-scoped ids so several instances can mint
// tokens against the same store without coordination.
type SnowflakeAllocator struct {
	node *snowflake.Node
}

// NewSnowflakeAllocator creates an allocator for the given node id (0-1023).
func NewSnowflakeAllocator(nodeID int64) (*SnowflakeAllocator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}

	return &SnowflakeAllocator{node: node}, nil
}

func (a *SnowflakeAllocator) Next(_ context.Context) (uint64, error) {
	id := a.node.Generate().Int64()
	if id <= 0 {
		return 0, ErrIDSpaceExhausted
	}

	return uint64(id), nil
}
