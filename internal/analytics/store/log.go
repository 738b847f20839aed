package store

import (
	"context"

	"github.com/serroba/shortlink-relay/internal/analytics"
	"go.uber.org/zap"
)

// Log writes every event as a structured log line.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("analytics")}
}

func (l *Log) SaveLinkCreated(_ context.Context, event *analytics.LinkCreatedEvent) error {
	l.logger.Info("link created",
		zap.String("token", event.Token),
		zap.String("long_url", event.LongURL),
		zap.Time("created_at", event.CreatedAt),
		zap.String("request_id", event.RequestID),
		zap.String("client_ip", event.ClientIP),
	)

	return nil
}

func (l *Log) SaveLinkResolved(_ context.Context, event *analytics.LinkResolvedEvent) error {
	l.logger.Info("link resolved",
		zap.String("token", event.Token),
		zap.Int("status", event.StatusCode),
		zap.Int("attempts", event.Attempts),
		zap.Bool("retried", event.Retried),
		zap.Bool("success", event.Success),
		zap.Time("resolved_at", event.ResolvedAt),
		zap.String("request_id", event.RequestID),
		zap.String("referrer", event.Referrer),
	)

	return nil
}

var _ analytics.Store = (*Log)(nil)
