package settings_test

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"

	"github.com/serroba/shortlink-relay/internal/settings"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockStore struct {
	mu        sync.Mutex
	values    map[string]string
	upsertErr error
	listErr   error
}

func newMockStore(values map[string]string) *mockStore {
	if values == nil {
		values = map[string]string{}
	}

	return &mockStore{values: values}
}

func (m *mockStore) GetSetting(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[name]
	if !ok {
		return "", shortener.ErrNotFound
	}

	return v, nil
}

func (m *mockStore) UpsertSetting(ctx context.Context, name, value string) error {
	return m.UpsertSettings(ctx, map[string]string{name: value})
}

func (m *mockStore) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	return maps.Clone(m.values), nil
}

func (m *mockStore) UpsertSettings(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}

	maps.Copy(m.values, values)

	return nil
}

func (m *mockStore) InsertMissingSettings(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range values {
		if _, ok := m.values[k]; !ok {
			m.values[k] = v
		}
	}

	return nil
}

type recordingPublisher struct {
	events []*settings.ChangedEvent
	err    error
}

func (r *recordingPublisher) publish(_ context.Context, event *settings.ChangedEvent) error {
	r.events = append(r.events, event)

	return r.err
}

func newService(store settings.Store, pub *recordingPublisher) (*settings.Service, *settings.Propagator) {
	p := settings.NewPropagator()

	return settings.NewService(store, p, pub.publish, "node-a", zap.NewNop()), p
}

func TestService_Load(t *testing.T) {
	t.Run("keeps persisted values and fills missing defaults", func(t *testing.T) {
		store := newMockStore(map[string]string{settings.RequestTryAttempt: "7"})
		svc, p := newService(store, &recordingPublisher{})

		snap, err := svc.Load(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 7, snap.RequestTryAttempt())
		assert.Same(t, snap, p.Current())

		stored, err := store.ListSettings(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "7", stored[settings.RequestTryAttempt])
		assert.Equal(t, "10", stored[settings.RequestWaitTimeout])
		assert.Equal(t, "60", stored[settings.ExpiredTokenTimestamp])
	})

	t.Run("returns store errors", func(t *testing.T) {
		store := newMockStore(nil)
		store.listErr = errors.New("db down")
		svc, _ := newService(store, &recordingPublisher{})

		_, err := svc.Load(context.Background())

		assert.Error(t, err)
	})
}

func TestService_Apply(t *testing.T) {
	t.Run("persists, publishes and broadcasts", func(t *testing.T) {
		store := newMockStore(nil)
		pub := &recordingPublisher{}
		svc, p := newService(store, pub)

		snap, err := svc.Apply(context.Background(), map[string]string{settings.RequestTryAttempt: "5"})

		require.NoError(t, err)
		assert.Equal(t, 5, snap.RequestTryAttempt())
		assert.Equal(t, 5, p.Current().RequestTryAttempt())
		assert.Equal(t, "5", store.values[settings.RequestTryAttempt])

		require.Len(t, pub.events, 1)
		assert.Equal(t, "node-a", pub.events[0].Origin)
		assert.Equal(t, "5", pub.events[0].Values[settings.RequestTryAttempt])
	})

	t.Run("broadcast failure is not returned", func(t *testing.T) {
		svc, p := newService(newMockStore(nil), &recordingPublisher{err: errors.New("broker down")})

		_, err := svc.Apply(context.Background(), map[string]string{settings.CleanDBPeriod: "30"})

		require.NoError(t, err)
		assert.Equal(t, "30", p.Current().Values()[settings.CleanDBPeriod])
	})

	t.Run("store failure publishes nothing", func(t *testing.T) {
		store := newMockStore(nil)
		store.upsertErr = shortener.NewStorageError("upsert settings", errors.New("db down"))
		pub := &recordingPublisher{}
		svc, p := newService(store, pub)

		_, err := svc.Apply(context.Background(), map[string]string{settings.RequestTryAttempt: "9"})

		assert.True(t, shortener.IsStorageError(err))
		assert.Equal(t, 3, p.Current().RequestTryAttempt())
		assert.Empty(t, pub.events)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		svc, p := newService(newMockStore(nil), &recordingPublisher{})

		_, err := svc.Apply(context.Background(), map[string]string{settings.RequestTryAttempt: "0"})

		assert.True(t, shortener.IsValidationError(err))
		assert.Equal(t, 3, p.Current().RequestTryAttempt())
	})
}

func TestService_HandleChanged(t *testing.T) {
	t.Run("applies remote changes", func(t *testing.T) {
		svc, p := newService(newMockStore(nil), &recordingPublisher{})

		err := svc.HandleChanged(context.Background(), &settings.ChangedEvent{
			Values: map[string]string{settings.RequestTryAttempt: "4"},
			Origin: "node-b",
		})

		require.NoError(t, err)
		assert.Equal(t, 4, p.Current().RequestTryAttempt())
	})

	t.Run("skips own changes", func(t *testing.T) {
		svc, p := newService(newMockStore(nil), &recordingPublisher{})
		before := p.Current()

		err := svc.HandleChanged(context.Background(), &settings.ChangedEvent{
			Values: map[string]string{settings.RequestTryAttempt: "4"},
			Origin: "node-a",
		})

		require.NoError(t, err)
		assert.Same(t, before, p.Current())
	})

	t.Run("drops invalid changes", func(t *testing.T) {
		svc, p := newService(newMockStore(nil), &recordingPublisher{})
		before := p.Current()

		err := svc.HandleChanged(context.Background(), &settings.ChangedEvent{
			Values: map[string]string{settings.RequestTryAttempt: "0"},
			Origin: "node-b",
		})

		require.NoError(t, err)
		assert.Same(t, before, p.Current())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		wantErr bool
	}{
		{"empty set", map[string]string{}, true},
		{"empty name", map[string]string{"": "1"}, true},
		{"empty value", map[string]string{"custom": ""}, true},
		{"negative well-known", map[string]string{settings.CleanDBPeriod: "-1"}, true},
		{"non-numeric well-known", map[string]string{settings.RequestWaitTimeout: "soon"}, true},
		{"zero attempts", map[string]string{settings.RequestTryAttempt: "0"}, true},
		{"zero ttl disables expiry", map[string]string{settings.ExpiredTokenTimestamp: "0"}, false},
		{"custom free-form", map[string]string{"banner": "hello"}, false},
		{"ttl overflowing a duration", map[string]string{settings.ExpiredTokenTimestamp: "10000000000"}, true},
		{"wait beyond an hour", map[string]string{settings.RequestWaitTimeout: "3601"}, true},
		{"attempts beyond the cap", map[string]string{settings.RequestTryAttempt: "101"}, true},
		{"sweep period at the cap", map[string]string{settings.CleanDBPeriod: "86400"}, false},
		{"value beyond int range", map[string]string{settings.CleanDBPeriod: "99999999999999999999"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := settings.Validate(tt.values)
			if tt.wantErr {
				assert.True(t, shortener.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
