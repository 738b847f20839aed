package retry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/serroba/shortlink-relay/internal/retry"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Retry(t *testing.T) {
	t.Run("reads outcome headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/retry/12", r.URL.Path)

			w.Header().Set(retry.HeaderResult, retry.ResultFailure)
			w.Header().Set(retry.HeaderAttempts, "3")
			w.Header().Set(retry.HeaderMessage, "request with url: x failed after 3 attempt(s)")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream body"))
		}))
		defer server.Close()

		client := retry.NewClient(server.URL+"/", 5*time.Second)

		outcome, err := client.Retry(context.Background(), 12)

		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, http.StatusBadGateway, outcome.StatusCode)
		assert.Equal(t, 3, outcome.Attempts)
		assert.Equal(t, "upstream body", string(outcome.Body))
		assert.Contains(t, outcome.Message, "3 attempt(s)")
	})

	t.Run("upstream 404 is an outcome, not a missing record", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set(retry.HeaderResult, retry.ResultFailure)
			w.Header().Set(retry.HeaderAttempts, "2")
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		outcome, err := retry.NewClient(server.URL, time.Second).Retry(context.Background(), 1)

		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, outcome.StatusCode)
	})

	t.Run("maps bare 404 to not found", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := retry.NewClient(server.URL, time.Second).Retry(context.Background(), 1)

		assert.ErrorIs(t, err, shortener.ErrNotFound)
	})

	t.Run("rejects responses without a result header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := retry.NewClient(server.URL, time.Second).Retry(context.Background(), 1)

		assert.Error(t, err)
	})
}
