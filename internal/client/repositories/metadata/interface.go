// Package metadata persists the handful of key/value pairs the client keeps
// between runs: the persisted session (username, credential, privilege
// flag). This is the only state the core manages on disk.
package metadata

import "context"

type Repository interface {
	// Get returns the value for key, or nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
