package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// lifecycleLog records start and shutdown calls across runnables in order.
type lifecycleLog struct {
	calls []string
}

type recordingRunnable struct {
	name        string
	log         *lifecycleLog
	startErr    error
	shutdownErr error
}

func (r *recordingRunnable) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}

	r.log.calls = append(r.log.calls, "start "+r.name)

	return nil
}

func (r *recordingRunnable) Shutdown() error {
	r.log.calls = append(r.log.calls, "shutdown "+r.name)

	return r.shutdownErr
}

type closingSubscriber struct {
	*feedSubscriber
	log      *lifecycleLog
	closeErr error
}

func (c *closingSubscriber) Close() error {
	c.log.calls = append(c.log.calls, "close subscriber")
	_ = c.feedSubscriber.Close()

	return c.closeErr
}

func newGroup(log *lifecycleLog, closeErr error, runnables ...*recordingRunnable) *messaging.ConsumerGroup {
	group := messaging.NewConsumerGroup(
		&closingSubscriber{feedSubscriber: newFeedSubscriber(), log: log, closeErr: closeErr},
		zap.NewNop(),
	)

	for _, r := range runnables {
		r.log = log
		group.Add(r)
	}

	return group
}

func TestConsumerGroup_Start(t *testing.T) {
	t.Run("starts settings then analytics consumers in order", func(t *testing.T) {
		log := &lifecycleLog{}
		group := newGroup(log, nil, &recordingRunnable{name: "settings"}, &recordingRunnable{name: "analytics"})

		require.NoError(t, group.Start(context.Background()))
		assert.Equal(t, []string{"start settings", "start analytics"}, log.calls)
	})

	t.Run("failure rolls back started consumers in reverse", func(t *testing.T) {
		log := &lifecycleLog{}
		brokerDown := errors.New("broker down")
		group := newGroup(log, nil,
			&recordingRunnable{name: "settings"},
			&recordingRunnable{name: "created"},
			&recordingRunnable{name: "resolved", startErr: brokerDown},
		)

		err := group.Start(context.Background())

		require.ErrorIs(t, err, brokerDown)
		assert.Contains(t, err.Error(), "start consumer 2")
		assert.Equal(t, []string{
			"start settings", "start created",
			"shutdown created", "shutdown settings",
		}, log.calls)
	})
}

func TestConsumerGroup_Shutdown(t *testing.T) {
	t.Run("stops consumers in reverse then closes the subscriber", func(t *testing.T) {
		log := &lifecycleLog{}
		group := newGroup(log, nil, &recordingRunnable{name: "settings"}, &recordingRunnable{name: "analytics"})
		require.NoError(t, group.Start(context.Background()))

		log.calls = nil

		require.NoError(t, group.Shutdown())
		assert.Equal(t, []string{"shutdown analytics", "shutdown settings", "close subscriber"}, log.calls)
	})

	t.Run("joins every error in shutdown order", func(t *testing.T) {
		log := &lifecycleLog{}
		settingsErr := errors.New("settings consumer stuck")
		analyticsErr := errors.New("analytics consumer stuck")
		closeErr := errors.New("subscriber close failed")

		group := newGroup(log, closeErr,
			&recordingRunnable{name: "settings", shutdownErr: settingsErr},
			&recordingRunnable{name: "analytics", shutdownErr: analyticsErr},
		)
		require.NoError(t, group.Start(context.Background()))

		err := group.Shutdown()

		require.ErrorIs(t, err, settingsErr)
		require.ErrorIs(t, err, analyticsErr)
		require.ErrorIs(t, err, closeErr)
		assert.Equal(t,
			"analytics consumer stuck\nsettings consumer stuck\nsubscriber close failed",
			err.Error(),
		)
		assert.Contains(t, log.calls, "close subscriber")
	})
}
