// Package store provides the durable string-keyed storage engines the cache
// persists into.
package store

import (
	"context"
	"errors"
)

var (
	ErrSetFailed = errors.New("failed to set value in store")
	ErrClosed    = errors.New("store is closed")
)

// Adapter is an asynchronous, string-keyed storage engine.
type Adapter interface {
	// Get returns the value stored under key. found is false when absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set stores value under key, replacing any prior value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// MultiRemove deletes every key in keys.
	MultiRemove(ctx context.Context, keys []string) error
}

// KeyLister is implemented by adapters that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}
