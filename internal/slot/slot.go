package slot

import (
	"context"
	"errors"
	"time"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
)

var ErrClosed = errors.New("slot closed")

// Slot is a single-key durable value store. The cart keeps its whole
// serialized list under one key.
type Slot interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set replaces the value under key.
	Set(ctx context.Context, key, value string) error

	Ping(ctx context.Context) error
	Close() error
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
