package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink-relay/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimiter rejects requests over the limit of the operation's scope.
// Operations without a scope are not limited. Clients are keyed by IP and
// User-Agent.
func RateLimiter(api huma.API, limiter *ratelimit.Limiter, logger *zap.Logger) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		scope, ok := ratelimit.ScopeOf(ctx.Operation())
		if !ok {
			next(ctx)

			return
		}

		exceeded, err := limiter.Allow(ctx.Context(), clientKey(ctx), scope)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("scope", string(scope)), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if exceeded != nil {
			logger.Warn("rate limit exceeded",
				zap.String("scope", string(scope)),
				zap.Int64("count", exceeded.Count),
				zap.Int64("max", exceeded.Config.Max),
				zap.String("client_ip", clientIP(ctx)),
			)
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, exceeded.Error())

			return
		}

		next(ctx)
	}
}

func clientKey(ctx huma.Context) string {
	hash := sha256.Sum256([]byte(clientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return hex.EncodeToString(hash[:])
}
