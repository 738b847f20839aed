package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink-relay/internal/analytics"
	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topics     []string
	messages   []*message.Message
	publishErr error
	closeErr   error
}

func (c *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	if c.publishErr != nil {
		return c.publishErr
	}

	for _, msg := range msgs {
		c.topics = append(c.topics, topic)
		c.messages = append(c.messages, msg)
	}

	return nil
}

func (c *capturePublisher) Close() error {
	return c.closeErr
}

type ctxKey struct{}

func TestNewPublishFunc(t *testing.T) {
	t.Run("link created event is encoded and tagged with its topic", func(t *testing.T) {
		pub := &capturePublisher{}
		publish := messaging.NewPublishFunc[analytics.LinkCreatedEvent](pub, analytics.TopicLinkCreated)

		sent := &analytics.LinkCreatedEvent{
			Token:     "abc",
			LongURL:   "https://example.com",
			CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			RequestID: "req-1",
		}
		ctx := context.WithValue(context.Background(), ctxKey{}, "traced")

		require.NoError(t, publish(ctx, sent))
		require.Len(t, pub.messages, 1)

		msg := pub.messages[0]
		assert.Equal(t, analytics.TopicLinkCreated, pub.topics[0])
		assert.Equal(t, analytics.TopicLinkCreated, msg.Metadata.Get(messaging.MetadataTopic))
		assert.NotEmpty(t, msg.UUID)
		assert.Equal(t, "traced", msg.Context().Value(ctxKey{}))

		var got analytics.LinkCreatedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, sent.Token, got.Token)
		assert.Equal(t, sent.LongURL, got.LongURL)
		assert.Equal(t, sent.RequestID, got.RequestID)
		assert.NotContains(t, string(msg.Payload), "clientIp")
	})

	t.Run("every publish gets its own message id", func(t *testing.T) {
		pub := &capturePublisher{}
		publish := messaging.NewPublishFunc[analytics.LinkResolvedEvent](pub, analytics.TopicLinkResolved)

		require.NoError(t, publish(context.Background(), &analytics.LinkResolvedEvent{Token: "a"}))
		require.NoError(t, publish(context.Background(), &analytics.LinkResolvedEvent{Token: "a"}))

		require.Len(t, pub.messages, 2)
		assert.NotEqual(t, pub.messages[0].UUID, pub.messages[1].UUID)
	})

	t.Run("broker failure names the topic", func(t *testing.T) {
		brokerDown := errors.New("broker down")
		publish := messaging.NewPublishFunc[analytics.LinkResolvedEvent](
			&capturePublisher{publishErr: brokerDown}, analytics.TopicLinkResolved,
		)

		err := publish(context.Background(), &analytics.LinkResolvedEvent{Token: "abc"})

		require.ErrorIs(t, err, brokerDown)
		assert.Contains(t, err.Error(), "publish "+analytics.TopicLinkResolved)
	})

	t.Run("unencodable event never reaches the broker", func(t *testing.T) {
		type withChannel struct {
			Updates chan int `json:"updates"`
		}

		pub := &capturePublisher{}
		publish := messaging.NewPublishFunc[withChannel](pub, "broken")

		err := publish(context.Background(), &withChannel{Updates: make(chan int)})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "encode broken")
		assert.Empty(t, pub.messages)
	})
}

func TestNopPublish(t *testing.T) {
	publish := messaging.NopPublish[analytics.LinkCreatedEvent]()

	assert.NoError(t, publish(context.Background(), &analytics.LinkCreatedEvent{Token: "abc"}))
}

func TestPublisherGroup(t *testing.T) {
	t.Run("shares one publisher", func(t *testing.T) {
		pub := &capturePublisher{}
		group := messaging.NewPublisherGroup(pub)

		assert.Same(t, pub, group.Publisher())
		assert.NoError(t, group.Shutdown())
	})

	t.Run("close failure is returned", func(t *testing.T) {
		closeErr := errors.New("close failed")
		group := messaging.NewPublisherGroup(&capturePublisher{closeErr: closeErr})

		assert.ErrorIs(t, group.Shutdown(), closeErr)
	})
}
