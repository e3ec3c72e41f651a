// Package cache persists timestamped envelopes through a store adapter and
// answers expiry and staleness questions about them.
package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/models"
	"goflare.io/freshen/pkg/serialization"
	"goflare.io/freshen/store"
	"goflare.io/freshen/utils"
)

// Option configures an Engine.
type Option func(*Engine)

// WithCodec sets the envelope codec. JSON is the default.
func WithCodec(codec serialization.Codec) Option {
	return func(e *Engine) {
		if codec != nil {
			e.codec = codec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithValidator registers the write validator of key.
func WithValidator(key string, v Validator) Option {
	return func(e *Engine) {
		e.validators[key] = v
	}
}

// WithMetrics shares a metrics set with the caller.
func WithMetrics(m *models.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Engine reads and writes cache envelopes. It is safe for concurrent use.
type Engine struct {
	adapter    store.Adapter
	codec      serialization.Codec
	logger     *zap.Logger
	now        func() time.Time
	validators map[string]Validator
	metrics    *models.Metrics
	tracer     trace.Tracer
	sf         singleflight.Group

	locks *lockRegistry

	seqMu     sync.Mutex
	issued    map[string]uint64
	committed map[string]uint64
	commitMu  sync.Mutex
}

// New creates an Engine over adapter.
func New(adapter store.Adapter, opts ...Option) *Engine {
	e := &Engine{
		adapter:    adapter,
		codec:      serialization.JSON{},
		logger:     zap.NewNop(),
		now:        time.Now,
		validators: make(map[string]Validator),
		metrics:    models.NewMetrics(),
		tracer:     otel.Tracer("freshen/cache"),
		issued:     make(map[string]uint64),
		committed:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.locks = newLockRegistry(e.now)
	return e
}

type readResult struct {
	entry models.Entry
	found bool
}

// Get decodes the entry under key into out. Entries older than hardExpiry are
// deleted and reported as absent; a zero hardExpiry never expires. Store and
// decode failures are logged and reported as a miss together with a StoreError.
func (e *Engine) Get(ctx context.Context, key string, hardExpiry time.Duration, out any) (bool, error) {
	_, found, err := e.Lookup(ctx, key, hardExpiry, out)
	return found, err
}

// Lookup is Get that also returns the write timestamp of the entry in Unix
// milliseconds.
func (e *Engine) Lookup(ctx context.Context, key string, hardExpiry time.Duration, out any) (int64, bool, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	entry, found, err := e.read(ctx, key)
	if err != nil {
		e.metrics.Misses.Inc()
		e.logger.Warn("Failed to read cache entry", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return 0, false, err
	}
	if !found {
		e.metrics.Misses.Inc()
		return 0, false, nil
	}

	if entry.IsExpired(e.now(), hardExpiry) {
		e.metrics.Expired.Inc()
		e.metrics.Misses.Inc()
		span.SetAttributes(attribute.Bool("expired", true))
		e.removeExpired(ctx, key, hardExpiry)
		return 0, false, nil
	}

	if out != nil {
		if err := e.codec.Unmarshal(entry.Data, out); err != nil {
			err = fault.Store(err, "decode cached data")
			e.metrics.Misses.Inc()
			e.logger.Warn("Failed to decode cache entry", zap.String("key", key), zap.Error(err))
			span.RecordError(err)
			return 0, false, err
		}
	}

	e.metrics.Hits.Inc()
	return entry.Timestamp, true, nil
}

// Set validates data and persists it with the current time. A rejected payload
// is not written and a ValidationError is returned; callers may ignore it.
func (e *Engine) Set(ctx context.Context, key string, data any) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if err := e.validate(key, data); err != nil {
		span.RecordError(err)
		return err
	}
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if err := e.write(ctx, key, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return err
	}
	return nil
}

// IsStale reports whether key is absent or older than stale. It never deletes.
func (e *Engine) IsStale(ctx context.Context, key string, stale time.Duration) bool {
	ctx, span := e.tracer.Start(ctx, "Engine.IsStale", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	entry, found, err := e.read(ctx, key)
	if err != nil {
		e.logger.Warn("Failed to read cache entry", zap.String("key", key), zap.Error(err))
		return true
	}
	return !found || entry.IsStale(e.now(), stale)
}

// Remove deletes key unconditionally.
func (e *Engine) Remove(ctx context.Context, key string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Remove", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	e.sf.Forget(key)
	if err := e.adapter.Remove(ctx, key); err != nil {
		err = fault.Store(err, "remove cache entry")
		e.logger.Warn("Failed to remove cache entry", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// RemoveAll deletes every key in keys.
func (e *Engine) RemoveAll(ctx context.Context, keys []string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.RemoveAll", trace.WithAttributes(attribute.Int("keyCount", len(keys))))
	defer span.End()

	for _, key := range keys {
		e.sf.Forget(key)
	}
	if err := e.adapter.MultiRemove(ctx, keys); err != nil {
		err = fault.Store(err, "remove cache entries")
		e.logger.Warn("Failed to remove cache entries", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// NextSequence issues the next refresh number of key. Numbers start at 1.
func (e *Engine) NextSequence(key string) uint64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.issued[key]++
	return e.issued[key]
}

// SetIfNewer persists data only when seq is greater than the highest sequence
// already committed for key, so a slow refresh cannot overwrite a newer one.
// It reports whether the write happened.
func (e *Engine) SetIfNewer(ctx context.Context, key string, seq uint64, data any) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SetIfNewer", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int64("seq", int64(seq)),
	))
	defer span.End()

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	e.seqMu.Lock()
	last := e.committed[key]
	e.seqMu.Unlock()
	if seq <= last {
		e.logger.Debug("Skipping superseded cache write",
			zap.String("key", key), zap.Uint64("seq", seq), zap.Uint64("committed", last))
		return false, nil
	}

	if err := e.validate(key, data); err != nil {
		return false, err
	}
	if err := e.write(ctx, key, data); err != nil {
		span.RecordError(err)
		return false, err
	}

	e.seqMu.Lock()
	e.committed[key] = seq
	e.seqMu.Unlock()
	return true, nil
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *models.Metrics {
	return e.metrics
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) read(ctx context.Context, key string) (models.Entry, bool, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := e.sf.Do(key, func() (any, error) {
		raw, found, err := e.adapter.Get(shared, key)
		if err != nil {
			return nil, fault.Store(err, "read from store")
		}
		if !found {
			return readResult{}, nil
		}
		payload, ts, err := e.codec.DecodeEntry([]byte(raw))
		if err != nil {
			return nil, fault.Store(err, "decode envelope")
		}
		return readResult{entry: models.Entry{Data: payload, Timestamp: ts}, found: true}, nil
	})
	if err != nil {
		return models.Entry{}, false, err
	}
	res := v.(readResult)
	return res.entry, res.found, nil
}

// removeExpired deletes key if the stored entry is still past hardExpiry.
// Writes hold commitMu, so an entry written after the shared read survives.
func (e *Engine) removeExpired(ctx context.Context, key string, hardExpiry time.Duration) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	raw, found, err := e.adapter.Get(ctx, key)
	if err != nil || !found {
		return
	}
	if _, ts, err := e.codec.DecodeEntry([]byte(raw)); err == nil &&
		!(models.Entry{Timestamp: ts}).IsExpired(e.now(), hardExpiry) {
		return
	}
	e.sf.Forget(key)
	if err := e.adapter.Remove(ctx, key); err != nil {
		e.logger.Warn("Failed to delete expired cache entry", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) validate(key string, data any) error {
	v, ok := e.validators[key]
	if !ok {
		return nil
	}
	if err := v(data); err != nil {
		e.metrics.Rejected.Inc()
		e.logger.Warn("Rejected invalid cache payload", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) write(ctx context.Context, key string, data any) error {
	encoded, err := e.codec.EncodeEntry(data, utils.Millis(e.now()))
	if err != nil {
		err = fault.Store(err, "encode envelope")
		e.logger.Error("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return err
	}
	e.sf.Forget(key)
	if err := e.adapter.Set(ctx, key, string(encoded)); err != nil {
		err = fault.Store(err, "write to store")
		e.logger.Error("Failed to write cache entry", zap.String("key", key), zap.Error(err))
		return err
	}
	e.metrics.Writes.Inc()
	return nil
}
