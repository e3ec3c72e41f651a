// Package resource serves cached API resources instantly and revalidates
// them in the background.
package resource

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"goflare.io/freshen/internal/cache"
	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/models"
	"goflare.io/freshen/utils"
)

// ErrRefreshInFlight is returned when another refresh of the same key holds
// the refresh lock. Its result reaches every mounted instance.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Fetcher performs the API request of a resource.
type Fetcher interface {
	Get(ctx context.Context, path string, silent bool) (*http.Response, error)
}

// OnlineNotifier runs callbacks when connectivity is restored.
type OnlineNotifier interface {
	RegisterOnlineCallback(fn func()) (unregister func())
}

// Store is the single owner of one resource key: it holds the data shared by
// every mounted view and runs refreshes on their behalf.
type Store[T any] struct {
	desc    Descriptor[T]
	engine  *cache.Engine
	fetcher Fetcher
	network OnlineNotifier
	logger  *zap.Logger

	mu        sync.Mutex
	data      T
	hasData   bool
	stamp     int64 // write time of data in Unix milliseconds
	instances map[*Instance[T]]struct{}

	persistMu sync.Mutex
	wg        sync.WaitGroup
}

// NewStore creates the store of desc.
func NewStore[T any](desc Descriptor[T], engine *cache.Engine, fetcher Fetcher, network OnlineNotifier, logger *zap.Logger) *Store[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[T]{
		desc:      desc,
		engine:    engine,
		fetcher:   fetcher,
		network:   network,
		logger:    logger.With(zap.String("resource", desc.Name)),
		instances: make(map[*Instance[T]]struct{}),
	}
}

// Descriptor returns the descriptor the store was built from.
func (s *Store[T]) Descriptor() Descriptor[T] {
	return s.desc
}

// Initialize loads the cached entry into memory if nothing is loaded yet.
// It reports whether data is available afterwards.
func (s *Store[T]) Initialize(ctx context.Context) (bool, error) {
	if s.hasFresh() {
		return true, nil
	}
	return s.loadCached(ctx)
}

// Reset drops the in-memory data, clears every mounted view and deletes the
// cache entry.
func (s *Store[T]) Reset(ctx context.Context) error {
	var zero T
	s.mu.Lock()
	s.data = zero
	s.hasData = false
	s.stamp = 0
	notes := s.updateAll(func(st *State[T]) {
		*st = State[T]{}
	})
	s.mu.Unlock()
	deliver(notes)

	return s.engine.Remove(ctx, s.desc.Key)
}

// Snapshot returns the shared data and whether any has been loaded.
func (s *Store[T]) Snapshot() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.hasData
}

// Mount creates a view of the resource. Cached data is served right away and
// revalidated in the background when stale; without data a foreground fetch
// starts. The view also refreshes whenever connectivity comes back.
func (s *Store[T]) Mount(ctx context.Context) *Instance[T] {
	bg := context.WithoutCancel(ctx)
	inst := newInstance(s)

	if !s.hasFresh() {
		if _, err := s.loadCached(ctx); err != nil {
			s.logger.Debug("Cache unavailable, fetching", zap.Error(err))
		}
	}

	inst.unregister = s.network.RegisterOnlineCallback(func() {
		_, has := s.Snapshot()
		s.Go(bg, has)
	})

	s.mu.Lock()
	if s.hasData {
		inst.state = State[T]{Data: s.data, HasData: true}
		s.instances[inst] = struct{}{}
		s.mu.Unlock()

		if s.engine.IsStale(ctx, s.desc.Key, s.desc.Policy.Stale) {
			s.Go(bg, true)
		}
		return inst
	}
	inst.state = State[T]{Loading: true}
	s.instances[inst] = struct{}{}
	acquired := s.engine.TryAcquireRefreshLock(s.desc.Key)
	s.mu.Unlock()

	// Without the lock the running refresh finishes under s.mu and so
	// still sees this instance.
	if acquired {
		s.spawn(bg, false)
	}
	return inst
}

// Refresh fetches the resource now and waits for the result. Silent
// refreshes leave the loading indicator alone.
func (s *Store[T]) Refresh(ctx context.Context, silent bool) error {
	if !s.begin(silent) {
		return ErrRefreshInFlight
	}
	return s.run(ctx, silent)
}

// Go starts a refresh in the background. It is a no-op when one is running.
func (s *Store[T]) Go(ctx context.Context, silent bool) {
	if s.begin(silent) {
		s.spawn(context.WithoutCancel(ctx), silent)
	}
}

// Wait blocks until background refreshes and cache writes have finished.
func (s *Store[T]) Wait() {
	s.wg.Wait()
}

// Mounted returns the number of mounted views.
func (s *Store[T]) Mounted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// hasFresh reports whether in-memory data is loaded and within hard expiry.
// Expired data is dropped so the next mount loads in the foreground.
func (s *Store[T]) hasFresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasData {
		return false
	}
	if !(models.Entry{Timestamp: s.stamp}).IsExpired(s.engine.Now(), s.desc.Policy.HardExpiry) {
		return true
	}
	s.logger.Debug("Dropping expired in-memory data", zap.String("key", s.desc.Key))
	var zero T
	s.data = zero
	s.hasData = false
	s.stamp = 0
	return false
}

func (s *Store[T]) loadCached(ctx context.Context) (bool, error) {
	var cached T
	ts, found, err := s.engine.Lookup(ctx, s.desc.Key, s.desc.Policy.HardExpiry, &cached)
	if err != nil || !found {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasData {
		s.data = cached
		s.hasData = true
		s.stamp = ts
	}
	return true, nil
}

// begin takes the refresh lock and, for foreground refreshes, flags every
// view as loading.
func (s *Store[T]) begin(silent bool) bool {
	s.mu.Lock()
	if !s.engine.TryAcquireRefreshLock(s.desc.Key) {
		s.mu.Unlock()
		return false
	}
	var notes []notification[T]
	if !silent {
		notes = s.updateAll(func(st *State[T]) { st.Loading = true })
	}
	s.mu.Unlock()
	deliver(notes)
	return true
}

func (s *Store[T]) spawn(ctx context.Context, silent bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(ctx, silent); err != nil {
			s.logger.Warn("Failed to refresh resource", zap.String("key", s.desc.Key), zap.Error(err))
		}
	}()
}

// run performs a refresh whose lock the caller holds. finish releases it.
func (s *Store[T]) run(ctx context.Context, silent bool) (err error) {
	var (
		data    T
		publish bool
	)
	defer func() {
		s.finish(data, publish, err)
	}()
	data, publish, err = s.load(ctx, silent)
	return err
}

func (s *Store[T]) load(ctx context.Context, silent bool) (T, bool, error) {
	var zero T
	seq := s.engine.NextSequence(s.desc.Key)

	resp, err := s.fetcher.Get(ctx, s.desc.Path, silent)
	if err != nil {
		return zero, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return zero, false, fault.HTTP(resp.StatusCode, s.desc.Path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, false, fault.Network(err, "read response body")
	}
	data, err := s.desc.Extract(body)
	if err != nil {
		return zero, false, err
	}

	wrote, err := s.engine.SetIfNewer(ctx, s.desc.Key, seq, data)
	if err != nil {
		// Rejected for caching but still shown.
		s.logger.Warn("Failed to cache refreshed data", zap.String("key", s.desc.Key), zap.Error(err))
		return data, true, nil
	}
	if !wrote {
		return zero, false, nil
	}
	return data, true, nil
}

func (s *Store[T]) finish(data T, publish bool, err error) {
	s.mu.Lock()
	if publish {
		s.data = data
		s.hasData = true
		s.stamp = utils.Millis(s.engine.Now())
	}
	if err != nil {
		s.engine.Metrics().Failures.Inc()
	}
	notes := s.updateAll(func(st *State[T]) {
		st.Loading = false
		switch {
		case publish:
			st.Data = data
			st.HasData = true
			st.Err = nil
		case err != nil && !st.HasData:
			st.Err = err
		}
	})
	s.engine.ReleaseRefreshLock(s.desc.Key)
	s.mu.Unlock()
	deliver(notes)
}

// persist writes the latest shared data to the cache in the background.
func (s *Store[T]) persist(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.persistMu.Lock()
		defer s.persistMu.Unlock()

		data, has := s.Snapshot()
		if !has {
			return
		}
		if err := s.engine.Set(ctx, s.desc.Key, data); err != nil {
			s.logger.Warn("Failed to persist local change", zap.String("key", s.desc.Key), zap.Error(err))
		}
	}()
}

// updateAll applies fn to every mounted view. Callers hold s.mu.
func (s *Store[T]) updateAll(fn func(*State[T])) []notification[T] {
	notes := make([]notification[T], 0, len(s.instances))
	for inst := range s.instances {
		if n, ok := inst.update(fn); ok {
			notes = append(notes, n)
		}
	}
	return notes
}

func (s *Store[T]) detach(inst *Instance[T]) {
	s.mu.Lock()
	delete(s.instances, inst)
	s.mu.Unlock()
}
