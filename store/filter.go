package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filtered wraps an Adapter with a Bloom filter of written keys so lookups of
// keys that were never stored skip the backend. The filter is only trusted
// once it has been seeded from a KeyLister; otherwise every Get passes through.
type Filtered struct {
	next              Adapter
	expectedItems     uint
	falsePositiveRate float64

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	seeded bool
}

var _ Adapter = (*Filtered)(nil)

// NewFiltered wraps next and seeds the filter from its keys when possible.
func NewFiltered(ctx context.Context, next Adapter, expectedItems uint, falsePositiveRate float64) (*Filtered, error) {
	f := &Filtered{
		next:              next,
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
	if err := f.Rebuild(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Rebuild replaces the filter with one seeded from the wrapped store's keys.
func (f *Filtered) Rebuild(ctx context.Context) error {
	filter := bloom.NewWithEstimates(f.expectedItems, f.falsePositiveRate)

	lister, ok := f.next.(KeyLister)
	if !ok {
		f.mu.Lock()
		f.filter, f.seeded = filter, false
		f.mu.Unlock()
		return nil
	}

	keys, err := lister.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed bloom filter: %w", err)
	}
	for _, key := range keys {
		filter.AddString(key)
	}

	f.mu.Lock()
	f.filter, f.seeded = filter, true
	f.mu.Unlock()
	return nil
}

// MayContain reports whether key could be present.
func (f *Filtered) MayContain(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.seeded || f.filter.TestString(key)
}

func (f *Filtered) Get(ctx context.Context, key string) (string, bool, error) {
	if !f.MayContain(key) {
		return "", false, nil
	}
	return f.next.Get(ctx, key)
}

func (f *Filtered) Set(ctx context.Context, key, value string) error {
	if err := f.next.Set(ctx, key, value); err != nil {
		return err
	}
	f.mu.Lock()
	f.filter.AddString(key)
	f.mu.Unlock()
	return nil
}

// Remove deletes from the wrapped store. Bloom filters cannot forget keys, so
// a removed key only costs one extra backend lookup until the next Rebuild.
func (f *Filtered) Remove(ctx context.Context, key string) error {
	return f.next.Remove(ctx, key)
}

func (f *Filtered) MultiRemove(ctx context.Context, keys []string) error {
	return f.next.MultiRemove(ctx, keys)
}

func (f *Filtered) Keys(ctx context.Context) ([]string, error) {
	lister, ok := f.next.(KeyLister)
	if !ok {
		return nil, fmt.Errorf("wrapped store cannot list keys")
	}
	return lister.Keys(ctx)
}

func (f *Filtered) Close() error {
	if c, ok := f.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
