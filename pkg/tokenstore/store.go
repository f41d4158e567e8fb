// Package tokenstore defines the client-local key/value storage that backs the
// portal session (auth token, user id, anonymous flag).
package tokenstore

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// Store is a small durable key/value store. Multi-key writes and deletes are
// all-or-nothing: a reader never observes a partially applied SetAll or DeleteAll.
type Store interface {
	// Get returns the value for key or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// GetAll returns the values present for keys; missing keys are omitted.
	GetAll(ctx context.Context, keys ...string) (map[string]string, error)
	// SetAll writes every pair as one unit.
	SetAll(ctx context.Context, values map[string]string) error
	// DeleteAll removes every key as one unit. Missing keys are not an error.
	DeleteAll(ctx context.Context, keys ...string) error
}
