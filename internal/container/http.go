package container

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink-relay/internal/analytics"
	"github.com/serroba/shortlink-relay/internal/handlers"
	"github.com/serroba/shortlink-relay/internal/health"
	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/serroba/shortlink-relay/internal/middleware"
	"github.com/serroba/shortlink-relay/internal/ratelimit"
	"github.com/serroba/shortlink-relay/internal/retry"
	"github.com/serroba/shortlink-relay/internal/settings"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

// Names of the internal listener's router and API.
const (
	InternalRouter = "internal-router"
	InternalAPI    = "internal-api"
)

// HTTPPackage provides the public router and API with every route registered.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)

		api := humachi.New(router, huma.DefaultConfig("Shortlink Relay", "1.0.0"))

		requestMeta, err := middleware.RequestMeta(api)
		if err != nil {
			return nil, err
		}

		api.UseMiddleware(
			requestMeta,
			middleware.AccessLog(logger),
			middleware.RateLimiter(api, do.MustInvoke[*ratelimit.Limiter](i), logger),
		)

		publishers := do.MustInvoke[*messaging.PublisherGroup](i)

		links := handlers.NewLinkHandler(
			do.MustInvoke[*shortener.Service](i),
			opts.publicBaseURL(),
			messaging.NewPublishFunc[analytics.LinkCreatedEvent](publishers.Publisher(), analytics.TopicLinkCreated),
			messaging.NewPublishFunc[analytics.LinkResolvedEvent](publishers.Publisher(), analytics.TopicLinkResolved),
			logger,
		)

		config := handlers.NewConfigHandler(
			do.MustInvoke[*settings.Service](i),
			do.MustInvoke[*settings.Propagator](i),
			logger,
		)

		health.RegisterRoutes(api, newHealthHandler(i))
		handlers.RegisterRoutes(api, links, config)

		return api, nil
	})

	do.ProvideNamed(i, InternalRouter, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.ProvideNamed(i, InternalAPI, func(i *do.Injector) (huma.API, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvokeNamed[*chi.Mux](i, InternalRouter)

		api := humachi.New(router, huma.DefaultConfig("Shortlink Relay Internal", "1.0.0"))

		requestMeta, err := middleware.RequestMeta(api)
		if err != nil {
			return nil, err
		}

		api.UseMiddleware(requestMeta, middleware.AccessLog(logger.Named("internal")))

		handlers.RegisterInternalRoutes(api, handlers.NewRetryHandler(do.MustInvoke[*retry.Service](i), logger))

		return api, nil
	})
}

func newHealthHandler(i *do.Injector) *health.Handler {
	checkers := map[string]health.Checker{}

	if client := do.MustInvoke[*redis.Client](i); client != nil {
		checkers["redis"] = health.NewRedisChecker(client)
	}

	if backend, ok := do.MustInvoke[Backend](i).(health.Checker); ok {
		checkers["database"] = backend
	}

	return health.NewHandler(checkers)
}
