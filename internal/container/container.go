// Package container wires the service with one samber/do package per concern.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink-relay/internal/analytics"
	analyticsstore "github.com/serroba/shortlink-relay/internal/analytics/store"
	"github.com/serroba/shortlink-relay/internal/logs"
	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/serroba/shortlink-relay/internal/ratelimit"
	"github.com/serroba/shortlink-relay/internal/retry"
	"github.com/serroba/shortlink-relay/internal/settings"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"github.com/serroba/shortlink-relay/internal/store"
	"github.com/serroba/shortlink-relay/internal/sweeper"
	"github.com/serroba/shortlink-relay/internal/upstream"
	"go.uber.org/zap"
)

const (
	startupTimeout = 10 * time.Second

	analyticsConsumerGroup = "analytics"
)

// Backend is the storage engine behind every repository interface.
type Backend interface {
	shortener.Repository
	settings.Store
	Shutdown() error
}

func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		return logs.New(logs.Options{Level: opts.LogLevel, Encoding: opts.LogFormat})
	})
}

// RedisPackage provides a nil client when Redis is disabled.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*redis.Client, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.RedisAddr == "" {
			return nil, nil
		}

		return redis.NewClient(&redis.Options{Addr: opts.RedisAddr}), nil
	})
}

func StorePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (Backend, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		switch opts.Store {
		case StoreMemory:
			logger.Warn("using in-memory store, data is lost on restart")

			return store.NewMemoryStore(), nil
		case StorePostgres:
			return newPostgresBackend(opts, logger)
		default:
			return nil, fmt.Errorf("unknown store %q", opts.Store)
		}
	})
}

func newPostgresBackend(opts *Options, logger *zap.Logger) (*store.PostgresStore, error) {
	if opts.DatabaseURL == "" {
		return nil, fmt.Errorf("--database-url is required for the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	primary, err := store.NewPool(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var replica = primary

	if opts.ReplicaURL != "" {
		replica, err = store.NewPool(ctx, opts.ReplicaURL)
		if err != nil {
			primary.Close()

			return nil, err
		}
	}

	pg := store.NewPostgresStore(primary, replica)

	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Shutdown()

		return nil, err
	}

	logger.Info("postgres store ready", zap.Bool("replica", opts.ReplicaURL != ""))

	return pg, nil
}

// RepositoryPackage puts the Redis read-through cache in front of the backend
// when Redis is enabled.
func RepositoryPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (shortener.Repository, error) {
		opts := do.MustInvoke[*Options](i)
		backend := do.MustInvoke[Backend](i)
		client := do.MustInvoke[*redis.Client](i)

		if client == nil || opts.cacheTTL() <= 0 {
			return backend, nil
		}

		logger := do.MustInvoke[*zap.Logger](i)

		return store.NewRedisCacheRepository(backend, client, opts.cacheTTL(), logger), nil
	})
}

// MessagingPackage provides the event publisher and the fan-out subscriber
// used for settings broadcasts. Without Redis both are one in-process channel.
func MessagingPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		return gochannel.NewGoChannel(gochannel.Config{}, messaging.NewLoggerAdapter(logger)), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		client := do.MustInvoke[*redis.Client](i)
		if client == nil {
			return messaging.NewPublisherGroup(do.MustInvoke[*gochannel.GoChannel](i)), nil
		}

		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     client,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, messaging.NewLoggerAdapter(logger))
		if err != nil {
			return nil, fmt.Errorf("create publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)
		svc := do.MustInvoke[*settings.Service](i)

		subscriber, err := newSubscriber(i, "")
		if err != nil {
			return nil, err
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer[settings.ChangedEvent](subscriber, settings.TopicChanged, svc.HandleChanged, logger))

		return group, nil
	})
}

// AnalyticsConsumerPackage provides the consumer group of cmd/consumer. It
// requires Redis.
func AnalyticsConsumerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		if do.MustInvoke[*redis.Client](i) == nil {
			return nil, fmt.Errorf("the analytics consumer requires redis")
		}

		subscriber, err := newSubscriber(i, analyticsConsumerGroup)
		if err != nil {
			return nil, err
		}

		sink := analyticsstore.NewLog(logger)

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer[analytics.LinkCreatedEvent](subscriber, analytics.TopicLinkCreated, sink.SaveLinkCreated, logger))
		group.Add(messaging.NewConsumer[analytics.LinkResolvedEvent](subscriber, analytics.TopicLinkResolved, sink.SaveLinkResolved, logger))

		return group, nil
	})
}

// newSubscriber subscribes through Redis streams. An empty consumerGroup
// delivers every message to every instance.
func newSubscriber(i *do.Injector, consumerGroup string) (message.Subscriber, error) {
	client := do.MustInvoke[*redis.Client](i)
	if client == nil {
		return do.MustInvoke[*gochannel.GoChannel](i), nil
	}

	logger := do.MustInvoke[*zap.Logger](i)

	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: consumerGroup,
	}, messaging.NewLoggerAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	return subscriber, nil
}

// SettingsPackage loads the persisted settings before anything reads them.
func SettingsPackage(i *do.Injector) {
	do.ProvideValue(i, settings.NewPropagator())

	do.Provide(i, func(i *do.Injector) (*settings.Service, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		backend := do.MustInvoke[Backend](i)
		publishers := do.MustInvoke[*messaging.PublisherGroup](i)

		origin := opts.InstanceID
		if origin == "" {
			origin = uuid.NewString()
		}

		svc := settings.NewService(
			backend,
			do.MustInvoke[*settings.Propagator](i),
			messaging.NewPublishFunc[settings.ChangedEvent](publishers.Publisher(), settings.TopicChanged),
			origin,
			logger,
		)

		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		if _, err := svc.Load(ctx); err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}

		return svc, nil
	})
}

// PipelinePackage wires the redirect pipeline and the retry service.
func PipelinePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (shortener.SettingsFunc, error) {
		propagator := do.MustInvoke[*settings.Propagator](i)

		// Settings must be loaded before the first snapshot is read.
		_ = do.MustInvoke[*settings.Service](i)

		return func() shortener.RuntimeSettings { return propagator.Current() }, nil
	})

	do.Provide(i, func(i *do.Injector) (*upstream.Client, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		return upstream.NewClient(logger, upstream.WithRetryWait(
			time.Duration(opts.RetryWaitMinMS)*time.Millisecond,
			time.Duration(opts.RetryWaitMaxMS)*time.Millisecond,
		)), nil
	})

	do.Provide(i, func(i *do.Injector) (*retry.Service, error) {
		opts := do.MustInvoke[*Options](i)

		return retry.NewService(
			do.MustInvoke[Backend](i),
			do.MustInvoke[*upstream.Client](i),
			do.MustInvoke[shortener.SettingsFunc](i),
			opts.attemptTimeout(),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i *do.Injector) (shortener.Retrier, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.RetryURL == "" {
			return do.MustInvoke[*retry.Service](i), nil
		}

		// The remote call has to outlive the longest request_wait_timeout.
		return retry.NewClient(opts.RetryURL, time.Hour), nil
	})

	do.Provide(i, func(i *do.Injector) (shortener.IDAllocator, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.NodeID >= 0 {
			return shortener.NewSnowflakeAllocator(int64(opts.NodeID))
		}

		backend := do.MustInvoke[Backend](i)

		return shortener.NewCounterAllocator(backend.MaxLinkID), nil
	})

	do.Provide(i, func(i *do.Injector) (*shortener.TokenCodec, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.TokenLength < 1 || opts.TokenLength > 255 {
			return nil, fmt.Errorf("token length must be between 1 and 255, got %d", opts.TokenLength)
		}

		return shortener.NewTokenCodec(uint8(opts.TokenLength))
	})

	do.Provide(i, func(i *do.Injector) (*shortener.Service, error) {
		opts := do.MustInvoke[*Options](i)

		return shortener.NewService(
			do.MustInvoke[shortener.Repository](i),
			do.MustInvoke[shortener.IDAllocator](i),
			do.MustInvoke[*shortener.TokenCodec](i),
			do.MustInvoke[*upstream.Client](i),
			do.MustInvoke[shortener.Retrier](i),
			do.MustInvoke[shortener.SettingsFunc](i),
			do.MustInvoke[*zap.Logger](i),
			shortener.WithAttemptTimeout(opts.attemptTimeout()),
		), nil
	})
}

func SweeperPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*sweeper.Sweeper, error) {
		propagator := do.MustInvoke[*settings.Propagator](i)
		_ = do.MustInvoke[*settings.Service](i)

		return sweeper.New(
			do.MustInvoke[shortener.Repository](i),
			func() sweeper.Schedule { return propagator.Current() },
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// RateLimitPackage shares limits across instances through Redis when enabled.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)
		client := do.MustInvoke[*redis.Client](i)

		if client == nil {
			return ratelimit.NewLimiter(store.NewRateLimitMemoryStore(), opts.rateLimitPolicy()), nil
		}

		redisStore, err := store.NewRateLimitRedisStore(client)
		if err != nil {
			return nil, err
		}

		return ratelimit.NewLimiter(redisStore, opts.rateLimitPolicy()), nil
	})
}
