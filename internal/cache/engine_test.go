package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/models"
	"goflare.io/freshen/pkg/serialization"
	"goflare.io/freshen/store"
)

type mapAdapter struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMapAdapter() *mapAdapter {
	return &mapAdapter{data: make(map[string]string)}
}

func (m *mapAdapter) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapAdapter) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *mapAdapter) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapAdapter) MultiRemove(ctx context.Context, keys []string) error {
	for _, k := range keys {
		_ = m.Remove(ctx, k)
	}
	return nil
}

func (m *mapAdapter) raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, adapter store.Adapter, opts ...Option) (*Engine, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.Now),
		WithValidator(models.KeyEvents, ItemList("_id", "title")),
		WithValidator(models.KeySchoolInfo, Object()),
	}
	return New(adapter, append(base, opts...)...), clock
}

var sampleEvents = []models.Item{
	{"_id": "e1", "title": "Sports day"},
	{"_id": "e2", "title": "Science fair", "venue": "Hall B"},
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, codec := range []serialization.Codec{serialization.JSON{}, serialization.Msgpack{}} {
		t.Run(codec.Type(), func(t *testing.T) {
			engine, _ := newTestEngine(t, newMapAdapter(), WithCodec(codec))

			require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))

			var got []models.Item
			found, err := engine.Get(ctx, models.KeyEvents, 24*time.Hour, &got)
			require.NoError(t, err)
			require.True(t, found)
			require.Len(t, got, 2)
			assert.Equal(t, "e1", got[0].ID())
			assert.Equal(t, "Hall B", got[1]["venue"])
		})
	}
}

func TestEnvelopeTimestampIsWriteTimeInMillis(t *testing.T) {
	adapter := newMapAdapter()
	engine, clock := newTestEngine(t, adapter)

	require.NoError(t, engine.Set(context.Background(), models.KeyNews, []models.Item{{"_id": "n1"}}))

	raw, ok := adapter.raw(models.KeyNews)
	require.True(t, ok)
	var env struct {
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, clock.Now().UnixMilli(), env.Timestamp)
	assert.JSONEq(t, `[{"_id":"n1"}]`, string(env.Data))
}

func TestHardExpiryDeletesEntry(t *testing.T) {
	ctx := context.Background()
	adapter := newMapAdapter()
	engine, clock := newTestEngine(t, adapter)

	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	clock.Advance(24*time.Hour + time.Millisecond)

	var got []models.Item
	found, err := engine.Get(ctx, models.KeyEvents, 24*time.Hour, &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	_, stored := adapter.raw(models.KeyEvents)
	assert.False(t, stored, "expired entry must be removed from the store")
	assert.EqualValues(t, 1, engine.Metrics().Expired.Load())
}

func TestZeroHardExpiryNeverExpires(t *testing.T) {
	ctx := context.Background()
	engine, clock := newTestEngine(t, newMapAdapter())

	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	clock.Advance(365 * 24 * time.Hour)

	found, err := engine.Get(ctx, models.KeyEvents, 0, nil)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestInvalidWriteLeavesPriorEntry(t *testing.T) {
	ctx := context.Background()
	adapter := newMapAdapter()
	engine, _ := newTestEngine(t, adapter)

	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	before, _ := adapter.raw(models.KeyEvents)

	bad := []models.Item{{"_id": "e3", "title": "ok"}, {"_id": "e4"}}
	err := engine.Set(ctx, models.KeyEvents, bad)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	after, _ := adapter.raw(models.KeyEvents)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 1, engine.Metrics().Rejected.Load())
}

func TestInvalidWriteOnEmptyKeyWritesNothing(t *testing.T) {
	adapter := newMapAdapter()
	engine, _ := newTestEngine(t, adapter)

	err := engine.Set(context.Background(), models.KeySchoolInfo, []any{"not", "an", "object"})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
	_, stored := adapter.raw(models.KeySchoolInfo)
	assert.False(t, stored)
}

func TestIsStale(t *testing.T) {
	ctx := context.Background()
	adapter := newMapAdapter()
	engine, clock := newTestEngine(t, adapter)

	assert.True(t, engine.IsStale(ctx, models.KeyEvents, 5*time.Minute), "absent entries are stale")

	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	assert.False(t, engine.IsStale(ctx, models.KeyEvents, 5*time.Minute))

	clock.Advance(10 * time.Minute)
	assert.True(t, engine.IsStale(ctx, models.KeyEvents, 5*time.Minute))
	assert.False(t, engine.IsStale(ctx, models.KeyEvents, time.Hour))

	_, stored := adapter.raw(models.KeyEvents)
	assert.True(t, stored, "staleness checks never delete")

	var got []models.Item
	found, err := engine.Get(ctx, models.KeyEvents, 24*time.Hour, &got)
	require.NoError(t, err)
	assert.True(t, found, "stale entries are still served")
	assert.Len(t, got, 2)
}

func TestStoreFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	adapter := newMapAdapter()
	engine, _ := newTestEngine(t, adapter)
	adapter.err = errors.New("disk full")

	found, err := engine.Get(ctx, models.KeyEvents, time.Hour, nil)
	assert.False(t, found)
	assert.Equal(t, fault.KindStore, fault.KindOf(err))

	err = engine.Set(ctx, models.KeyEvents, sampleEvents)
	assert.Equal(t, fault.KindStore, fault.KindOf(err))
	assert.True(t, engine.IsStale(ctx, models.KeyEvents, time.Hour))
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	adapter := newMapAdapter()
	engine, _ := newTestEngine(t, adapter)
	require.NoError(t, adapter.Set(ctx, models.KeyEvents, "{not json"))

	found, err := engine.Get(ctx, models.KeyEvents, time.Hour, nil)
	assert.False(t, found)
	assert.Equal(t, fault.KindStore, fault.KindOf(err))

	require.NoError(t, adapter.Set(ctx, models.KeyEvents, `{"data":{"a":1},"timestamp":1}`))
	var wrongShape []models.Item
	found, err = engine.Get(ctx, models.KeyEvents, 0, &wrongShape)
	assert.False(t, found)
	assert.Equal(t, fault.KindStore, fault.KindOf(err))
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	adapter := newMapAdapter()
	engine, _ := newTestEngine(t, adapter)

	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	require.NoError(t, engine.Set(ctx, models.KeyNews, []models.Item{}))
	require.NoError(t, engine.RemoveAll(ctx, models.AllKeys()))

	for _, key := range models.AllKeys() {
		found, err := engine.Get(ctx, key, 0, nil)
		require.NoError(t, err)
		assert.False(t, found, key)
	}
}

func TestRefreshLocks(t *testing.T) {
	engine, clock := newTestEngine(t, newMapAdapter())

	require.True(t, engine.TryAcquireRefreshLock(models.KeyEvents))
	assert.False(t, engine.TryAcquireRefreshLock(models.KeyEvents))
	clock.Advance(time.Second)
	require.True(t, engine.TryAcquireRefreshLock(models.KeyNews), "locks are per key")

	locks := engine.Locks()
	require.Len(t, locks, 2)
	assert.Equal(t, models.KeyEvents, locks[0].Key)
	assert.Equal(t, models.KeyNews, locks[1].Key)

	engine.ReleaseRefreshLock(models.KeyEvents)
	engine.ReleaseRefreshLock(models.KeyEvents)
	assert.True(t, engine.TryAcquireRefreshLock(models.KeyEvents))
}

func TestRefreshLockIsExclusiveUnderContention(t *testing.T) {
	engine, _ := newTestEngine(t, newMapAdapter())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if engine.TryAcquireRefreshLock(models.KeyUsers) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestSetIfNewerDropsSupersededWrites(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, newMapAdapter())

	slow := engine.NextSequence(models.KeyEvents)
	fast := engine.NextSequence(models.KeyEvents)
	require.Greater(t, fast, slow)

	wrote, err := engine.SetIfNewer(ctx, models.KeyEvents, fast, sampleEvents[1:])
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = engine.SetIfNewer(ctx, models.KeyEvents, slow, sampleEvents[:1])
	require.NoError(t, err)
	assert.False(t, wrote)

	var got []models.Item
	found, err := engine.Get(ctx, models.KeyEvents, 0, &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID())
}

func TestSetIfNewerDoesNotCommitFailedWrites(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, newMapAdapter())

	second := engine.NextSequence(models.KeyEvents) + 1
	_, err := engine.SetIfNewer(ctx, models.KeyEvents, second, []models.Item{{"_id": "x"}})
	require.Error(t, err)

	wrote, err := engine.SetIfNewer(ctx, models.KeyEvents, 1, sampleEvents)
	require.NoError(t, err)
	assert.True(t, wrote, "a rejected write must not block older valid ones")
}

func TestConcurrentGetsShareOneRead(t *testing.T) {
	ctx := context.Background()
	mem, err := store.NewMemory(0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer mem.Close()
	engine, _ := newTestEngine(t, mem)
	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got []models.Item
			found, err := engine.Get(ctx, models.KeyEvents, time.Hour, &got)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Len(t, got, 2)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, engine.Metrics().Hits.Load())
}

type hookAdapter struct {
	*mapAdapter
	once     sync.Once
	afterGet func()
}

func (h *hookAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := h.mapAdapter.Get(ctx, key)
	h.once.Do(h.afterGet)
	return v, ok, err
}

func TestHardExpiryKeepsEntryWrittenAfterRead(t *testing.T) {
	ctx := context.Background()
	adapter := &hookAdapter{mapAdapter: newMapAdapter()}
	engine, clock := newTestEngine(t, adapter)

	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	clock.Advance(25 * time.Hour)

	fresh := []models.Item{{"_id": "e9", "title": "Graduation"}}
	adapter.afterGet = func() {
		require.NoError(t, engine.Set(ctx, models.KeyEvents, fresh))
	}

	found, err := engine.Get(ctx, models.KeyEvents, 24*time.Hour, nil)
	require.NoError(t, err)
	assert.False(t, found)

	var got []models.Item
	found, err = engine.Get(ctx, models.KeyEvents, 24*time.Hour, &got)
	require.NoError(t, err)
	require.True(t, found, "entry written after the expired read must survive")
	assert.Equal(t, "e9", got[0].ID())
}

func TestLookupReturnsWriteTimestamp(t *testing.T) {
	ctx := context.Background()
	engine, clock := newTestEngine(t, newMapAdapter())
	require.NoError(t, engine.Set(ctx, models.KeyEvents, sampleEvents))
	written := clock.Now()
	clock.Advance(time.Minute)

	ts, found, err := engine.Lookup(ctx, models.KeyEvents, time.Hour, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, written.UnixMilli(), ts)
}

func TestCanceledCallerDoesNotFailSharedRead(t *testing.T) {
	mem, err := store.NewMemory(0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer mem.Close()
	engine, _ := newTestEngine(t, mem)
	require.NoError(t, engine.Set(context.Background(), models.KeyEvents, sampleEvents))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []models.Item
	found, err := engine.Get(ctx, models.KeyEvents, time.Hour, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 2)
}
