// Package retry runs the bounded re-fetch of a long URL whose first fetch
// failed. It can run in-process or behind the internal retry API.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

// RecordLoader reads retry records.
type RecordLoader interface {
	LoadRetryRecord(ctx context.Context, id int64) (*shortener.RetryRecord, error)
}

// Service implements shortener.Retrier against local storage.
type Service struct {
	records        RecordLoader
	fetcher        shortener.Fetcher
	settings       shortener.SettingsFunc
	attemptTimeout time.Duration
	logger         *zap.Logger
}

func NewService(
	records RecordLoader,
	fetcher shortener.Fetcher,
	settings shortener.SettingsFunc,
	attemptTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	if attemptTimeout <= 0 {
		attemptTimeout = shortener.DefaultAttemptTimeout
	}

	return &Service{
		records:        records,
		fetcher:        fetcher,
		settings:       settings,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Retry fetches the record's URL with up to its attempt budget. The whole
// retry is bounded by request_wait_timeout. The store is never written.
func (s *Service) Retry(ctx context.Context, id int64) (*shortener.RetryOutcome, error) {
	if id <= 0 {
		return nil, shortener.ErrNotFound
	}

	record, err := s.records.LoadRetryRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	budget := max(record.AttemptBudget, 1)

	if deadline := s.settings().RequestWaitTimeout(); deadline > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	fetched, fetchErr := s.fetcher.Fetch(ctx, shortener.FetchRequest{
		URL:            record.LongURL,
		Attempts:       budget,
		AttemptTimeout: s.attemptTimeout,
	})

	outcome := &shortener.RetryOutcome{
		StatusCode:  fetched.StatusCode,
		Body:        fetched.Body,
		ContentType: fetched.ContentType,
		Attempts:    fetched.Attempts,
		Success:     fetchErr == nil,
	}

	if fetchErr != nil {
		outcome.Message = FailureMessage(record.LongURL, fetched.Attempts)

		s.logger.Warn("retry exhausted",
			zap.Int64("retry_id", id),
			zap.String("url", record.LongURL),
			zap.Int("budget", budget),
			zap.Int("attempts", fetched.Attempts),
			zap.Int("status", fetched.StatusCode),
			zap.Error(fetchErr),
		)

		return outcome, nil
	}

	s.logger.Info("retry succeeded",
		zap.Int64("retry_id", id),
		zap.Int("attempts", fetched.Attempts),
		zap.Int("status", fetched.StatusCode),
	)

	return outcome, nil
}

// FailureMessage names the url and the number of attempts made.
func FailureMessage(longURL string, attempts int) string {
	return fmt.Sprintf("request with url: %s failed after %d attempt(s)", longURL, attempts)
}
