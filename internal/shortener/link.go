package shortener

import (
	"time"

	"github.com/google/uuid"
)

// Token is the short, URL-safe identifier of a mapping.
type Token string

// Mapping is a stored token -> long URL association.
// It is immutable once saved; the only mutation is deletion.
type Mapping struct {
	Token     Token
	LinkID    uint64
	LongURL   string
	URLHash   URLHash
	CreatedAt time.Time
}

// Expired reports whether the mapping is older than ttl at now.
// A non-positive ttl never expires anything.
func (m *Mapping) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}

	return now.Sub(m.CreatedAt) >= ttl
}

// RetryRecord is a failed redirect waiting for the bounded retry fetch.
// AttemptBudget is the number of fetch attempts allowed, not attempts made.
type RetryRecord struct {
	ID            int64
	LongURL       string
	AttemptBudget int
	CreatedAt     time.Time
}

// RequestLogEntry is one append-only record of a terminal redirect outcome.
type RequestLogEntry struct {
	ID             uuid.UUID
	RequestTime    time.Time
	Token          Token
	LongURL        string
	TimeoutSeconds int
	Attempt        int
	ResultCode     int
	Error          string
}

// NewRequestLogEntry stamps a new entry with a surrogate key and request time.
func NewRequestLogEntry(token Token, longURL string, now time.Time) *RequestLogEntry {
	return &RequestLogEntry{
		ID:          uuid.New(),
		RequestTime: now,
		Token:       token,
		LongURL:     longURL,
	}
}
