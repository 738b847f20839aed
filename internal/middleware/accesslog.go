package middleware

import (
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink-relay/internal/handlers"
	"go.uber.org/zap"
)

// AccessLog logs one line per request. It must run after RequestMeta.
func AccessLog(logger *zap.Logger) func(ctx huma.Context, next func(huma.Context)) {
	logger = logger.Named("http")

	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()

		next(ctx)

		meta := handlers.RequestMetaFromContext(ctx.Context())
		fields := []zap.Field{
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.URL().Path),
			zap.Int("status", ctx.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", meta.RequestID),
			zap.String("client_ip", meta.ClientIP),
		}

		if op := ctx.Operation(); op != nil {
			fields = append(fields, zap.String("operation", op.OperationID))
		}

		if ctx.Status() >= 500 {
			logger.Warn("request served", fields...)

			return
		}

		logger.Info("request served", fields...)
	}
}
