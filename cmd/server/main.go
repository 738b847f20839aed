package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink-relay/internal/container"
	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/serroba/shortlink-relay/internal/sweeper"
	"go.uber.org/zap"
)

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.StorePackage(injector)
	container.RepositoryPackage(injector)
	container.MessagingPackage(injector)
	container.SettingsPackage(injector)
	container.PipelinePackage(injector)
	container.SweeperPackage(injector)
	container.RateLimitPackage(injector)
	container.HTTPPackage(injector)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		injector := do.New()
		registerPackages(injector, options)

		logger := do.MustInvoke[*zap.Logger](injector)

		var servers []*http.Server

		hooks.OnStart(func() {
			ctx := context.Background()

			// Invoke the APIs to trigger route registration.
			_ = do.MustInvoke[huma.API](injector)
			servers = append(servers, newServer(options.Port, do.MustInvoke[*chi.Mux](injector)))

			if options.InternalPort > 0 {
				_ = do.MustInvokeNamed[huma.API](injector, container.InternalAPI)
				servers = append(servers, newServer(options.InternalPort,
					do.MustInvokeNamed[*chi.Mux](injector, container.InternalRouter)))
			}

			if err := do.MustInvoke[*messaging.ConsumerGroup](injector).Start(ctx); err != nil {
				logger.Fatal("failed to start settings subscriber", zap.Error(err))
			}

			if err := do.MustInvoke[*sweeper.Sweeper](injector).Start(ctx); err != nil {
				logger.Fatal("failed to start sweeper", zap.Error(err))
			}

			errs := make(chan error, len(servers))

			for _, server := range servers {
				logger.Info("server starting", zap.String("addr", server.Addr))

				go func() {
					errs <- server.ListenAndServe()
				}()
			}

			for range servers {
				if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("server failed", zap.Error(err))
				}
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), options.ShutdownTimeout())
			defer cancel()

			for _, server := range servers {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", zap.String("addr", server.Addr), zap.Error(err))
				}
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			if client := do.MustInvoke[*redis.Client](injector); client != nil {
				_ = client.Close()
			}

			logger.Info("shutdown complete")
			_ = logger.Sync()
		})
	})

	cli.Run()
}

func newServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
