package shortener_test

import (
	"testing"

	"github.com/serroba/shortlink-relay/internal/shortener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCodec(t *testing.T) {
	codec, err := shortener.NewTokenCodec(shortener.DefaultTokenLength)
	require.NoError(t, err)

	t.Run("round trips ids", func(t *testing.T) {
		for _, id := range []uint64{1, 2, 42, 1 << 20, 1 << 40} {
			token, err := codec.Encode(id)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(token), shortener.DefaultTokenLength)

			decoded, ok := codec.Decode(token)
			require.True(t, ok)
			assert.Equal(t, id, decoded)
		}
	})

	t.Run("distinct ids give distinct tokens", func(t *testing.T) {
		seen := make(map[shortener.Token]bool)

		for id := uint64(1); id <= 1000; id++ {
			token, err := codec.Encode(id)
			require.NoError(t, err)
			assert.False(t, seen[token], "duplicate token %s", token)
			seen[token] = true
		}
	})

	t.Run("rejects non canonical tokens", func(t *testing.T) {
		for _, token := range []shortener.Token{"", "abc", "not-a-token!", "%%%%"} {
			_, ok := codec.Decode(token)
			assert.False(t, ok, "token %q", token)
		}
	})
}
