// Package shortlink maps public tokens to item ids.
package shortlink

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// ErrNotFound is returned when a token maps to nothing.
var ErrNotFound = errors.New("short not found")

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 6
	maxAttempts   = 8
)

// Store resolves and registers short links.
type Store interface {
	Resolve(ctx context.Context, token string) (string, error)
	Register(ctx context.Context, itemID string) (string, error)
}

// TokenFromPath strips anything from the first "." on, so "abc123.png"
// and "abc123" name the same link.
func TokenFromPath(s string) string {
	token, _, _ := strings.Cut(s, ".")
	return token
}

func newToken() (string, error) {
	b := make([]byte, tokenLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
