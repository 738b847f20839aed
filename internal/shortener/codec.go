package shortener

import (
	"github.com/sqids/sqids-go"
)

// DefaultTokenLength is the minimum length of generated tokens.
const DefaultTokenLength = 15

// TokenCodec is a deterministic, reversible id <-> token encoding.
// Uniqueness comes from the id; the encoding is injective.
type TokenCodec struct {
	sqids *sqids.Sqids
}

// NewTokenCodec creates a codec producing tokens of at least minLength characters.
func NewTokenCodec(minLength uint8) (*TokenCodec, error) {
	s, err := sqids.New(sqids.Options{MinLength: minLength})
	if err != nil {
		return nil, err
	}

	return &TokenCodec{sqids: s}, nil
}

// Encode maps id to its token.
func (c *TokenCodec) Encode(id uint64) (Token, error) {
	token, err := c.sqids.Encode([]uint64{id})
	if err != nil {
		return "", err
	}

	return Token(token), nil
}

// Decode returns the id behind token. It only accepts canonical tokens, the
// ones Encode would produce, so arbitrary strings never resolve.
func (c *TokenCodec) Decode(token Token) (uint64, bool) {
	ids := c.sqids.Decode(string(token))
	if len(ids) != 1 {
		return 0, false
	}

	canonical, err := c.Encode(ids[0])
	if err != nil || canonical != token {
		return 0, false
	}

	return ids[0], true
}
