package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrAPIKeyNotFound indicates no key matches the presented hash.
var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
