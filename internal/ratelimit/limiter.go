// Package ratelimit implements per-client sliding window limits keyed by the
// kind of operation being called.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// Store records a hit and returns the number of hits inside window,
// pruning older ones.
type Store interface {
	Record(ctx context.Context, key string, window time.Duration) (count int64, err error)
}

// Scope groups operations that share a limit.
type Scope string

const (
	ScopeShorten  Scope = "shorten"
	ScopeRedirect Scope = "redirect"
	ScopeConfig   Scope = "config"
)

// MetadataKey marks the scope of a huma operation in its Metadata.
const MetadataKey = "rateLimitScope"

// LimitConfig allows Max hits per Window.
type LimitConfig struct {
	Max    int64
	Window time.Duration
}

// Policy maps scopes to limits. Scopes without an entry are not limited.
type Policy map[Scope]LimitConfig

// LimitExceeded describes a rejected hit.
type LimitExceeded struct {
	Scope  Scope
	Config LimitConfig
	Count  int64
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s scope, %d/%d requests in %s",
		e.Scope, e.Count, e.Config.Max, e.Config.Window)
}

// Limiter enforces a Policy with a sliding window per client and scope.
type Limiter struct {
	store  Store
	policy Policy
}

func NewLimiter(store Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy}
}

// Allow records a hit for clientKey in scope. It returns a non-nil
// LimitExceeded when the hit is over the limit.
func (l *Limiter) Allow(ctx context.Context, clientKey string, scope Scope) (*LimitExceeded, error) {
	limit, ok := l.policy[scope]
	if !ok || limit.Max <= 0 {
		return nil, nil
	}

	key := fmt.Sprintf("%s:%s:%d", clientKey, scope, limit.Window.Milliseconds())

	count, err := l.store.Record(ctx, key, limit.Window)
	if err != nil {
		return nil, err
	}

	if count > limit.Max {
		return &LimitExceeded{Scope: scope, Config: limit, Count: count}, nil
	}

	return nil, nil
}

// ScopeOf returns the scope recorded in op's metadata, if any.
func ScopeOf(op *huma.Operation) (Scope, bool) {
	if op == nil || op.Metadata == nil {
		return "", false
	}

	scope, ok := op.Metadata[MetadataKey].(Scope)

	return scope, ok
}
