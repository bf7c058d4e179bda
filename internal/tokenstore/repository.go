package tokenstore

import (
	"context"
	"errors"
)

var (
	ErrMissingAccessToken = errors.New("token bundle has no access token")
	ErrNoSession          = errors.New("no session stored")
	ErrWatchUnsupported   = errors.New("storage backend does not support change notifications")
)

// Repository is the key-value storage the Token Store persists into.
type Repository interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Change describes a write made through another Repository instance sharing
// the same storage.
type Change struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
	Origin  string `json:"origin"`
}

// Watcher is implemented by repositories that can report writes made by other
// instances. Writes made by the watching instance itself are not reported.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}
