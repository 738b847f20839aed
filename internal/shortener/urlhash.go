package shortener

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// URLHash is the hex SHA-256 digest of a long URL, used as the dedup key.
type URLHash string

// HashURL hashes the long URL exactly as submitted. Two bodies that differ in
// any byte are different URLs.
func HashURL(longURL string) URLHash {
	h := sha256.Sum256([]byte(longURL))

	return URLHash(hex.EncodeToString(h[:]))
}

// ValidateURL checks that raw is an absolute http or https URL and returns it
// with surrounding whitespace removed.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidURL
	}

	u, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return "", ErrInvalidURL
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", ErrInvalidURL
	}

	if u.Host == "" {
		return "", ErrInvalidURL
	}

	return trimmed, nil
}
