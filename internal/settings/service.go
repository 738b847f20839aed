package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

// TopicChanged carries settings changes between service instances.
const TopicChanged = "settings.changed"

// Store is the durable settings table.
type Store interface {
	GetSetting(ctx context.Context, name string) (string, error)
	UpsertSetting(ctx context.Context, name, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
	// UpsertSettings writes every value in one transaction.
	UpsertSettings(ctx context.Context, values map[string]string) error
	// InsertMissingSettings writes only the names that are not stored yet.
	InsertMissingSettings(ctx context.Context, values map[string]string) error
}

// ChangedEvent announces an applied settings change.
type ChangedEvent struct {
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Origin    string            `json:"origin"`
}

// Service keeps the Store and the Propagator in step.
type Service struct {
	store      Store
	propagator *Propagator
	publish    messaging.Publish[ChangedEvent]
	origin     string
	logger     *zap.Logger
}

// NewService creates a settings service. origin identifies this instance in
// broadcast events so it can skip its own changes.
func NewService(
	store Store,
	propagator *Propagator,
	publish messaging.Publish[ChangedEvent],
	origin string,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:      store,
		propagator: propagator,
		publish:    publish,
		origin:     origin,
		logger:     logger,
	}
}

// Load seeds the propagator from the store. Persisted values win; defaults
// are written only for names the store does not have yet.
func (s *Service) Load(ctx context.Context) (*Snapshot, error) {
	if err := s.store.InsertMissingSettings(ctx, Defaults()); err != nil {
		return nil, err
	}

	persisted, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := s.propagator.Replace(persisted)

	s.logger.Info("settings loaded",
		zap.Int("count", len(persisted)),
		zap.Any("values", persisted),
	)

	return snapshot, nil
}

// Apply validates, persists and publishes values. Nothing is published when
// validation or persistence fails.
func (s *Service) Apply(ctx context.Context, values map[string]string) (*Snapshot, error) {
	if err := Validate(values); err != nil {
		return nil, err
	}

	if err := s.store.UpsertSettings(ctx, values); err != nil {
		return nil, err
	}

	snapshot := s.propagator.Publish(values)

	event := &ChangedEvent{
		Values:    values,
		UpdatedAt: snapshot.UpdatedAt,
		Origin:    s.origin,
	}

	if err := s.publish(ctx, event); err != nil {
		s.logger.Error("failed to broadcast settings change", zap.Error(err))
	}

	s.logger.Info("settings applied", zap.Any("values", values))

	return snapshot, nil
}

// HandleChanged applies a change broadcast by another instance. Invalid
// changes are dropped since redelivery cannot fix them.
func (s *Service) HandleChanged(_ context.Context, event *ChangedEvent) error {
	if event.Origin == s.origin {
		return nil
	}

	if err := Validate(event.Values); err != nil {
		s.logger.Warn("dropping invalid settings change",
			zap.String("origin", event.Origin),
			zap.Error(err),
		)

		return nil
	}

	s.propagator.Publish(event.Values)

	s.logger.Info("settings change received",
		zap.String("origin", event.Origin),
		zap.Any("values", event.Values),
	)

	return nil
}

// Validate rejects empty names and values, and well-known values that are
// malformed or out of range.
func Validate(values map[string]string) error {
	if len(values) == 0 {
		return shortener.NewValidationError("", "no settings given")
	}

	for name, value := range values {
		if name == "" {
			return shortener.NewValidationError("name", "setting name must not be empty")
		}

		if value == "" {
			return shortener.NewValidationError(name, "setting value must not be empty")
		}

		if _, known := Defaults()[name]; !known {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return shortener.NewValidationError(name, fmt.Sprintf("%q is not a non-negative integer", value))
		}

		if name == RequestTryAttempt && n < 1 {
			return shortener.NewValidationError(name, "at least one attempt is required")
		}

		if limit := Maximums()[name]; n > limit {
			return shortener.NewValidationError(name, fmt.Sprintf("%d exceeds the maximum of %d", n, limit))
		}
	}

	return nil
}
