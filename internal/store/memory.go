package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/serroba/shortlink-relay/internal/shortener"
)

// MemoryStore keeps every table in process memory. It implements
// shortener.Repository and settings.Store.
type MemoryStore struct {
	mu        sync.RWMutex
	mappings  map[shortener.Token]*shortener.Mapping
	byHash    map[shortener.URLHash]shortener.Token
	maxLinkID uint64
	retries   map[int64]*shortener.RetryRecord
	retrySeq  int64
	requests  []shortener.RequestLogEntry
	settings  map[string]string
	now       func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for expiry cutoffs.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		mappings: make(map[shortener.Token]*shortener.Mapping),
		byHash:   make(map[shortener.URLHash]shortener.Token),
		retries:  make(map[int64]*shortener.RetryRecord),
		settings: make(map[string]string),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *MemoryStore) SaveMapping(_ context.Context, mapping *shortener.Mapping) (shortener.Token, bool, error) {
	if err := validateMapping(mapping); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byHash[mapping.URLHash]; ok {
		return existing, false, nil
	}

	if _, ok := m.mappings[mapping.Token]; ok {
		return "", false, shortener.ErrTokenTaken
	}

	stored := *mapping
	m.mappings[stored.Token] = &stored
	m.byHash[stored.URLHash] = stored.Token
	m.maxLinkID = max(m.maxLinkID, stored.LinkID)

	return stored.Token, true, nil
}

func (m *MemoryStore) FindTokenFor(_ context.Context, longURL string) (shortener.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.byHash[shortener.HashURL(longURL)]
	if !ok {
		return "", shortener.ErrNotFound
	}

	return token, nil
}

func (m *MemoryStore) Resolve(_ context.Context, token shortener.Token) (*shortener.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mapping, ok := m.mappings[token]
	if !ok {
		return nil, shortener.ErrNotFound
	}

	out := *mapping

	return &out, nil
}

func (m *MemoryStore) DeleteMapping(_ context.Context, token shortener.Token) error {
	if token == "" {
		return shortener.NewValidationError("token", "must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mapping, ok := m.mappings[token]; ok {
		delete(m.byHash, mapping.URLHash)
		delete(m.mappings, token)
	}

	return nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, ttl time.Duration) ([]shortener.Token, error) {
	if ttl <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	var purged []shortener.Token

	for token, mapping := range m.mappings {
		if mapping.Expired(now, ttl) {
			delete(m.byHash, mapping.URLHash)
			delete(m.mappings, token)

			purged = append(purged, token)
		}
	}

	return purged, nil
}

func (m *MemoryStore) MaxLinkID(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.maxLinkID, nil
}

func (m *MemoryStore) NextRetryID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retrySeq++

	return m.retrySeq, nil
}

func (m *MemoryStore) SaveRetryRecord(_ context.Context, record *shortener.RetryRecord) error {
	if err := validateRetryRecord(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *record
	m.retries[stored.ID] = &stored

	return nil
}

func (m *MemoryStore) LoadRetryRecord(_ context.Context, id int64) (*shortener.RetryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.retries[id]
	if !ok {
		return nil, shortener.ErrNotFound
	}

	out := *record

	return &out, nil
}

func (m *MemoryStore) DeleteRetryRecord(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.retries, id)

	return nil
}

func (m *MemoryStore) PurgeRetryRecords(_ context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)

	var purged int64

	for id, record := range m.retries {
		if !record.CreatedAt.After(cutoff) {
			delete(m.retries, id)

			purged++
		}
	}

	return purged, nil
}

func (m *MemoryStore) AppendRequestLog(_ context.Context, entry *shortener.RequestLogEntry) error {
	if entry == nil {
		return shortener.NewValidationError("entry", "must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, *entry)

	return nil
}

// RequestLog returns a copy of every appended entry in append order.
func (m *MemoryStore) RequestLog() []shortener.RequestLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]shortener.RequestLogEntry, len(m.requests))
	copy(out, m.requests)

	return out
}

// RetryRecordCount reports how many retry records are still stored.
func (m *MemoryStore) RetryRecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.retries)
}

func (m *MemoryStore) GetSetting(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.settings[name]
	if !ok {
		return "", shortener.ErrNotFound
	}

	return value, nil
}

func (m *MemoryStore) UpsertSetting(ctx context.Context, name, value string) error {
	return m.UpsertSettings(ctx, map[string]string{name: value})
}

func (m *MemoryStore) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.settings), nil
}

func (m *MemoryStore) UpsertSettings(_ context.Context, values map[string]string) error {
	if err := validateSettings(values); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	maps.Copy(m.settings, values)

	return nil
}

func (m *MemoryStore) InsertMissingSettings(_ context.Context, values map[string]string) error {
	if err := validateSettings(values); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, value := range values {
		if _, ok := m.settings[name]; !ok {
			m.settings[name] = value
		}
	}

	return nil
}

// Shutdown is a no-op.
func (m *MemoryStore) Shutdown() error {
	return nil
}

func validateMapping(mapping *shortener.Mapping) error {
	switch {
	case mapping == nil:
		return shortener.NewValidationError("mapping", "must not be nil")
	case mapping.Token == "":
		return shortener.NewValidationError("token", "must not be empty")
	case mapping.LongURL == "":
		return shortener.NewValidationError("long_url", "must not be empty")
	case mapping.URLHash == "":
		return shortener.NewValidationError("url_hash", "must not be empty")
	}

	return nil
}

func validateRetryRecord(record *shortener.RetryRecord) error {
	switch {
	case record == nil:
		return shortener.NewValidationError("retry_record", "must not be nil")
	case record.ID <= 0:
		return shortener.NewValidationError("id", "must be positive")
	case record.LongURL == "":
		return shortener.NewValidationError("long_url", "must not be empty")
	}

	return nil
}

func validateSettings(values map[string]string) error {
	for name, value := range values {
		if name == "" {
			return shortener.NewValidationError("name", "must not be empty")
		}

		if value == "" {
			return shortener.NewValidationError(name, "value must not be empty")
		}
	}

	return nil
}
