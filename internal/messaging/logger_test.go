package messaging_test

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/serroba/shortlink-relay/internal/messaging"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := messaging.NewLoggerAdapter(zap.New(core))

	adapter.With(watermill.LogFields{"topic": "settings.changed"}).
		Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})
	adapter.Trace("polling", nil)

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "watermill", entries[0].LoggerName)

		fields := entries[0].ContextMap()
		assert.Equal(t, "settings.changed", fields["topic"])
		assert.EqualValues(t, 2, fields["attempt"])
		assert.Equal(t, "boom", fields["error"])

		assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	}
}
