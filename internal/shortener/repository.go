package shortener

import (
	"context"
	"time"
)

// Repository persists mappings, retry records and the request log.
// Implementations wrap engine failures in *StorageError and never retry.
type Repository interface {
	// SaveMapping inserts the mapping unless its token or its URL is already
	// stored. It returns the token that ends up bound to the URL and whether
	// this call created it. A token bound to a different URL yields ErrTokenTaken.
	SaveMapping(ctx context.Context, mapping *Mapping) (Token, bool, error)
	FindTokenFor(ctx context.Context, longURL string) (Token, error)
	Resolve(ctx context.Context, token Token) (*Mapping, error)
	DeleteMapping(ctx context.Context, token Token) error
	// PurgeExpired deletes every mapping at least ttl old in one statement and
	// returns the purged tokens. It is a no-op for ttl <= 0.
	PurgeExpired(ctx context.Context, ttl time.Duration) ([]Token, error)
	MaxLinkID(ctx context.Context) (uint64, error)

	RetryRepository

	AppendRequestLog(ctx context.Context, entry *RequestLogEntry) error
}

// RetryRepository persists retry records.
type RetryRepository interface {
	NextRetryID(ctx context.Context) (int64, error)
	SaveRetryRecord(ctx context.Context, record *RetryRecord) error
	LoadRetryRecord(ctx context.Context, id int64) (*RetryRecord, error)
	DeleteRetryRecord(ctx context.Context, id int64) error
	PurgeRetryRecords(ctx context.Context, ttl time.Duration) (int64, error)
}
