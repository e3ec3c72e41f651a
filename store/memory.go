package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// DefaultMemoryBytes bounds the in-process store when no size is given.
const DefaultMemoryBytes = 64 << 20

// Memory is an in-process Adapter backed by Ristretto. Contents do not survive
// a restart, so it suits tests and short-lived tools.
type Memory struct {
	cache  *ristretto.Cache
	keys   sync.Map
	logger *zap.Logger
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates a Memory store bounded to maxBytes of values.
func NewMemory(maxBytes int64, logger *zap.Logger) (*Memory, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Memory{logger: logger}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			logger.Debug("Evicted store entry", zap.Uint64("hash", item.Key))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	m.cache = cache

	return m, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	value, found := m.cache.Get(key)
	if !found {
		m.keys.Delete(key)
		return "", false, nil
	}

	s, ok := value.(string)
	if !ok {
		m.logger.Error("Invalid store value type", zap.String("key", key))
		return "", false, nil
	}
	return s, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !m.cache.Set(key, value, int64(len(key)+len(value))) {
		m.logger.Warn("Ristretto Set dropped", zap.String("key", key))
		return ErrSetFailed
	}
	// writes are buffered; make them visible to the next Get
	m.cache.Wait()

	m.keys.Store(key, struct{}{})
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Del(key)
	m.keys.Delete(key)
	return nil
}

func (m *Memory) MultiRemove(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := m.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists keys written through this store that are still present.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	m.keys.Range(func(k, _ any) bool {
		if ctx.Err() != nil {
			return false
		}
		key := k.(string)
		if _, found := m.cache.Get(key); found {
			keys = append(keys, key)
		}
		return true
	})
	return keys, ctx.Err()
}

func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
