// Package settings holds the runtime configuration shared by every request
// handler and the expiry sweeper.
package settings

import (
	"maps"
	"strconv"
	"time"
)

// Well-known setting names.
const (
	RequestWaitTimeout    = "request_wait_timeout"
	RequestTryAttempt     = "request_try_attempt"
	CleanDBPeriod         = "clean_db_period"
	ExpiredTokenTimestamp = "expired_token_timestamp"
)

// Defaults applied for names missing from the store.
func Defaults() map[string]string {
	return map[string]string{
		RequestWaitTimeout:    "10",
		RequestTryAttempt:     "3",
		CleanDBPeriod:         "10",
		ExpiredTokenTimestamp: "60",
	}
}

// Maximums keeps every well-known value within what time.Duration and the
// retry loop can represent.
func Maximums() map[string]int {
	return map[string]int{
		RequestWaitTimeout:    3600,
		RequestTryAttempt:     100,
		CleanDBPeriod:         86400,
		ExpiredTokenTimestamp: 10 * 365 * 24 * 3600,
	}
}

// Snapshot is an immutable point-in-time view of all settings.
type Snapshot struct {
	UpdatedAt time.Time
	values    map[string]string
}

// NewSnapshot copies values into a new snapshot.
func NewSnapshot(values map[string]string, updatedAt time.Time) *Snapshot {
	return &Snapshot{UpdatedAt: updatedAt, values: maps.Clone(values)}
}

// Get returns the raw value of name.
func (s *Snapshot) Get(name string) (string, bool) {
	v, ok := s.values[name]

	return v, ok
}

// Int returns name parsed as an integer, or fallback if missing or malformed.
// Well-known names are capped at their maximum.
func (s *Snapshot) Int(name string, fallback int) int {
	raw, ok := s.values[name]
	if !ok {
		return fallback
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	if limit, known := Maximums()[name]; known && n > limit {
		return limit
	}

	return n
}

// Seconds returns name interpreted as a number of seconds.
func (s *Snapshot) Seconds(name string, fallback int) time.Duration {
	return time.Duration(s.Int(name, fallback)) * time.Second
}

// Values returns a copy of every setting.
func (s *Snapshot) Values() map[string]string {
	return maps.Clone(s.values)
}

func (s *Snapshot) RequestTryAttempt() int {
	return s.Int(RequestTryAttempt, 3)
}

func (s *Snapshot) RequestWaitTimeout() time.Duration {
	return s.Seconds(RequestWaitTimeout, 10)
}

func (s *Snapshot) CleanPeriod() time.Duration {
	return s.Seconds(CleanDBPeriod, 10)
}

// TokenTTL is the age after which a mapping expires. Zero disables expiry.
func (s *Snapshot) TokenTTL() time.Duration {
	return s.Seconds(ExpiredTokenTimestamp, 0)
}
