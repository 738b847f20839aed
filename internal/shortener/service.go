package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAttemptTimeout bounds the first, unretried upstream fetch.
	DefaultAttemptTimeout = time.Second

	maxMintAttempts = 3
)

// FetchRequest describes one upstream fetch, possibly retried.
type FetchRequest struct {
	URL            string
	Header         http.Header
	Attempts       int
	AttemptTimeout time.Duration
}

// FetchResult is the last response seen by a fetch. For transport failures
// StatusCode is synthesized and Body carries the error text.
type FetchResult struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Attempts    int
}

// Fetcher performs upstream fetches. It always returns a result; the error is
// an *UpstreamFetchError when the final status is outside [200,300) or the
// transport failed.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// RetryOutcome is the result of the bounded retry fetch for a retry record.
type RetryOutcome struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Attempts    int
	Success     bool
	// Message names the url and attempt count when Success is false.
	Message string
}

// Retrier runs the bounded retry for a previously stored retry record.
type Retrier interface {
	Retry(ctx context.Context, id int64) (*RetryOutcome, error)
}

// RuntimeSettings is the part of the live configuration read per redirect.
type RuntimeSettings interface {
	RequestTryAttempt() int
	RequestWaitTimeout() time.Duration
}

// SettingsFunc returns the current runtime settings snapshot.
type SettingsFunc func() RuntimeSettings

// IsSuccessStatus is the single success rule for upstream responses.
func IsSuccessStatus(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// ShortenResult is the outcome of a shorten request.
type ShortenResult struct {
	Token   Token
	LongURL string
	Created bool
}

// RedirectResult is what a redirect hands back to the client.
type RedirectResult struct {
	Token       Token
	LongURL     string
	StatusCode  int
	Body        []byte
	ContentType string
	Retried     bool
	Success     bool
	Attempts    int
	LogEntry    *RequestLogEntry
}

// Service implements shorten, redirect and delete on top of a Repository.
type Service struct {
	repo           Repository
	ids            IDAllocator
	codec          *TokenCodec
	fetcher        Fetcher
	retrier        Retrier
	settings       SettingsFunc
	logger         *zap.Logger
	attemptTimeout time.Duration
	now            func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithAttemptTimeout overrides the timeout of the first upstream fetch.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// WithClock overrides the clock used to stamp mappings and log entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires the redirect pipeline.
func NewService(
	repo Repository,
	ids IDAllocator,
	codec *TokenCodec,
	fetcher Fetcher,
	retrier Retrier,
	settings SettingsFunc,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		repo:           repo,
		ids:            ids,
		codec:          codec,
		fetcher:        fetcher,
		retrier:        retrier,
		settings:       settings,
		logger:         logger,
		attemptTimeout: DefaultAttemptTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Shorten returns the token for rawURL, minting one if the URL is new.
// Concurrent calls for the same URL converge on the first stored token.
func (s *Service) Shorten(ctx context.Context, rawURL string) (*ShortenResult, error) {
	longURL, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindTokenFor(ctx, longURL)
	if err == nil {
		return &ShortenResult{Token: existing, LongURL: longURL}, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	for range maxMintAttempts {
		id, err := s.ids.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrIDSpaceExhausted) {
				s.logger.Error("id allocator exhausted, cannot mint tokens", zap.Error(err))
			}

			return nil, err
		}

		token, err := s.codec.Encode(id)
		if err != nil {
			return nil, fmt.Errorf("encode id %d: %w", id, err)
		}

		stored, created, err := s.repo.SaveMapping(ctx, &Mapping{
			Token:     token,
			LinkID:    id,
			LongURL:   longURL,
			URLHash:   HashURL(longURL),
			CreatedAt: s.now(),
		})
		if errors.Is(err, ErrTokenTaken) {
			s.logger.Warn("minted token already taken, allocating another",
				zap.String("token", string(token)),
				zap.Uint64("id", id),
			)

			continue
		}

		if err != nil {
			return nil, err
		}

		return &ShortenResult{Token: stored, LongURL: longURL, Created: created}, nil
	}

	return nil, fmt.Errorf("mint token for %s: %w", longURL, ErrTokenTaken)
}

// Redirect resolves token and proxies the long URL. A failed first fetch is
// handed to the Retrier exactly once. One request log entry is appended per
// call that reaches the upstream, after the terminal outcome is known.
func (s *Service) Redirect(ctx context.Context, token Token, header http.Header) (*RedirectResult, error) {
	if _, ok := s.codec.Decode(token); !ok {
		return nil, ErrNotFound
	}

	mapping, err := s.repo.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	fetched, fetchErr := s.fetcher.Fetch(ctx, FetchRequest{
		URL:            mapping.LongURL,
		Header:         header,
		Attempts:       1,
		AttemptTimeout: s.attemptTimeout,
	})
	if fetchErr == nil {
		entry := NewRequestLogEntry(token, mapping.LongURL, s.now())
		entry.Attempt = 1
		entry.ResultCode = fetched.StatusCode

		if err := s.repo.AppendRequestLog(ctx, entry); err != nil {
			return nil, err
		}

		return &RedirectResult{
			Token:       token,
			LongURL:     mapping.LongURL,
			StatusCode:  fetched.StatusCode,
			Body:        fetched.Body,
			ContentType: fetched.ContentType,
			Success:     true,
			Attempts:    1,
			LogEntry:    entry,
		}, nil
	}

	s.logger.Info("upstream fetch failed, deferring to retry",
		zap.String("token", string(token)),
		zap.String("url", mapping.LongURL),
		zap.Error(fetchErr),
	)

	return s.retry(ctx, mapping)
}

func (s *Service) retry(ctx context.Context, mapping *Mapping) (*RedirectResult, error) {
	current := s.settings()
	budget := max(current.RequestTryAttempt(), 1)

	id, err := s.repo.NextRetryID(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveRetryRecord(ctx, &RetryRecord{
		ID:            id,
		LongURL:       mapping.LongURL,
		AttemptBudget: budget,
		CreatedAt:     s.now(),
	}); err != nil {
		return nil, err
	}

	outcome, err := s.retrier.Retry(ctx, id)
	if err != nil {
		// A lost retry record is a server fault, not an unknown token.
		return nil, fmt.Errorf("%w: record %d: %v", ErrRetryFailed, id, err)
	}

	entry := NewRequestLogEntry(mapping.Token, mapping.LongURL, s.now())
	entry.TimeoutSeconds = int(current.RequestWaitTimeout() / time.Second)
	entry.Attempt = budget
	entry.ResultCode = outcome.StatusCode

	if !outcome.Success {
		entry.Error = outcome.Message
	}

	if err := s.repo.AppendRequestLog(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.repo.DeleteRetryRecord(ctx, id); err != nil {
		s.logger.Warn("failed to retire retry record",
			zap.Int64("retry_id", id),
			zap.Error(err),
		)
	}

	result := &RedirectResult{
		Token:       mapping.Token,
		LongURL:     mapping.LongURL,
		StatusCode:  outcome.StatusCode,
		Body:        outcome.Body,
		ContentType: outcome.ContentType,
		Retried:     true,
		Success:     outcome.Success,
		Attempts:    outcome.Attempts,
		LogEntry:    entry,
	}

	if !outcome.Success {
		result.Body = []byte(fmt.Sprintf("unknown result from long url: %s. Retry request result: '%s'\n",
			mapping.LongURL, outcome.Message))
		result.ContentType = "text/plain; charset=utf-8"
	}

	return result, nil
}

// Delete removes the mapping for token. Deleting an unknown token succeeds.
func (s *Service) Delete(ctx context.Context, token Token) error {
	return s.repo.DeleteMapping(ctx, token)
}
