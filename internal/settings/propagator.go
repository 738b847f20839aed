package settings

import (
	"maps"
	"sync/atomic"
	"time"
)

// Propagator holds the current Snapshot behind an atomically swapped pointer.
// Readers never block; publishers only contend on the swap itself.
type Propagator struct {
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewPropagator creates a propagator seeded with the hard defaults.
func NewPropagator() *Propagator {
	p := &Propagator{now: time.Now}
	p.current.Store(NewSnapshot(Defaults(), p.now()))

	return p
}

// Current returns the installed snapshot.
func (p *Propagator) Current() *Snapshot {
	return p.current.Load()
}

// Publish merges values over the current snapshot and installs the result.
// Concurrent publishers retry on a lost swap so no update is dropped; on
// overlapping keys the last successful swap wins.
func (p *Propagator) Publish(values map[string]string) *Snapshot {
	for {
		prev := p.current.Load()

		merged := maps.Clone(prev.values)
		maps.Copy(merged, values)

		next := &Snapshot{UpdatedAt: p.now(), values: merged}
		if p.current.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Replace installs values as the whole configuration.
func (p *Propagator) Replace(values map[string]string) *Snapshot {
	next := NewSnapshot(values, p.now())
	p.current.Store(next)

	return next
}
