// Package kvstore is the durable key-value collaborator used by the client for
// its product snapshot and offline queue. Values are opaque bytes.
package kvstore

import "context"

// Store persists values across restarts
type Store interface {
	// Get returns the value for key; ok is false when the key is absent
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key; removing an absent key is not an error
	Remove(ctx context.Context, key string) error
}
