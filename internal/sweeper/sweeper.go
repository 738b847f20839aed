// Package sweeper periodically removes expired mappings and orphaned retry
// records.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

const (
	DefaultPeriod       = 10 * time.Second
	defaultCycleTimeout = 30 * time.Second
)

// Purger deletes aged rows in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context, ttl time.Duration) ([]shortener.Token, error)
	PurgeRetryRecords(ctx context.Context, ttl time.Duration) (int64, error)
}

// Schedule is the live configuration read at the start of every cycle.
type Schedule interface {
	CleanPeriod() time.Duration
	TokenTTL() time.Duration
}

// Sweeper runs purge cycles one after another on a single goroutine.
type Sweeper struct {
	store         Purger
	schedule      func() Schedule
	logger        *zap.Logger
	defaultPeriod time.Duration
	cycleTimeout  time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Sweeper)

// WithDefaultPeriod sets the period used when the configured one is not positive.
func WithDefaultPeriod(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.defaultPeriod = d
		}
	}
}

// WithCycleTimeout bounds a single cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.cycleTimeout = d
		}
	}
}

func New(store Purger, schedule func() Schedule, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:         store,
		schedule:      schedule,
		logger:        logger.Named("sweeper"),
		defaultPeriod: DefaultPeriod,
		cycleTimeout:  defaultCycleTimeout,
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the loop. Calling it again, or after Shutdown, has no effect.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return nil
	}

	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)

	go s.loop(ctx)

	s.logger.Info("sweeper started")

	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	for {
		timer := time.NewTimer(s.period())

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}

		// An in-flight cycle finishes even when shutdown begins.
		_ = s.RunOnce(context.WithoutCancel(ctx))
	}
}

func (s *Sweeper) period() time.Duration {
	period := s.schedule().CleanPeriod()
	if period <= 0 {
		s.logger.Warn("clean period is not positive, using default",
			zap.Duration("configured", period),
			zap.Duration("default", s.defaultPeriod),
		)

		return s.defaultPeriod
	}

	return period
}

// RunOnce performs one purge cycle with the TTL currently configured.
// A zero TTL skips the cycle. A failed purge abandons the cycle.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	ttl := s.schedule().TokenTTL()
	if ttl <= 0 {
		s.logger.Warn("token ttl is zero, skipping purge")

		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	purged, err := s.store.PurgeExpired(ctx, ttl)
	if err != nil {
		s.logger.Error("purge expired mappings failed", zap.Duration("ttl", ttl), zap.Error(err))

		return err
	}

	retired, err := s.store.PurgeRetryRecords(ctx, ttl)
	if err != nil {
		s.logger.Error("purge retry records failed", zap.Duration("ttl", ttl), zap.Error(err))

		return err
	}

	if len(purged) > 0 || retired > 0 {
		s.logger.Info("purge cycle finished",
			zap.Int("mappings", len(purged)),
			zap.Int64("retry_records", retired),
			zap.Duration("ttl", ttl),
		)
	}

	return nil
}

// Shutdown stops scheduling and waits for the in-flight cycle.
func (s *Sweeper) Shutdown() error {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-s.done

	s.logger.Info("sweeper stopped")

	return nil
}
