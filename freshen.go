// Package freshen is the offline-first data layer of the school client. It
// serves events, news, users and school information from a persistent cache
// and revalidates them against the API in the background.
package freshen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/freshen/config"
	"goflare.io/freshen/internal/cache"
	"goflare.io/freshen/internal/fetch"
	"goflare.io/freshen/internal/resource"
	"goflare.io/freshen/loading"
	"goflare.io/freshen/models"
	"goflare.io/freshen/netstate"
	"goflare.io/freshen/retrier"
	"goflare.io/freshen/store"
)

// API paths of the cached resources.
const (
	EventsPath     = "/events"
	NewsPath       = "/news"
	UsersPath      = "/users"
	SchoolInfoPath = "/school-info"
)

type (
	// ListStore owns a cached list resource.
	ListStore = resource.ListStore
	// ListView is a mounted view of a list resource.
	ListView = resource.ListInstance
	// ListState is what a list view renders.
	ListState = resource.State[[]models.Item]
	// ObjectStore owns a cached single-object resource.
	ObjectStore = resource.Store[models.Item]
	// ObjectView is a mounted view of an object resource.
	ObjectView = resource.Instance[models.Item]
	// ObjectState is what an object view renders.
	ObjectState = resource.State[models.Item]
	// LockInfo describes a held refresh lock.
	LockInfo = cache.LockInfo
)

// Client wires the cache, the API client and the network observer together
// and owns one store per resource.
type Client struct {
	cfg     *config.Config
	logger  *zap.Logger
	adapter store.Adapter
	engine  *cache.Engine
	signal  *loading.Signal
	network *netstate.Observer
	tokens  *fetch.TokenStore
	api     *fetch.Client

	events     *resource.ListStore
	news       *resource.ListStore
	users      *resource.ListStore
	schoolInfo *resource.Store[models.Item]

	stopPoller context.CancelFunc
	pollerDone chan struct{}
}

// New creates a Client persisting into adapter.
func New(ctx context.Context, adapter store.Adapter, opts ...config.Option) (*Client, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	logger := cfg.Logger

	events := resource.ListDescriptor("events", models.KeyEvents, EventsPath,
		cfg.Policy(models.KeyEvents), []string{"events", "event"}, []string{"_id", "title"})
	news := resource.ListDescriptor("news", models.KeyNews, NewsPath,
		cfg.Policy(models.KeyNews), []string{"news"}, []string{"_id", "title"})
	users := resource.ListDescriptor("users", models.KeyUsers, UsersPath,
		cfg.Policy(models.KeyUsers), []string{"users", "user"}, []string{"_id", "name"})
	school := resource.ObjectDescriptor("school info", models.KeySchoolInfo, SchoolInfoPath,
		cfg.Policy(models.KeySchoolInfo), "school")

	engine := cache.New(adapter,
		cache.WithCodec(cfg.Serialization.Codec),
		cache.WithLogger(logger.Named("cache")),
		cache.WithValidator(events.Key, events.Validator),
		cache.WithValidator(news.Key, news.Validator),
		cache.WithValidator(users.Key, users.Validator),
		cache.WithValidator(school.Key, school.Validator),
	)

	tokens := fetch.NewTokenStore(adapter)
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	fetchOpts := []fetch.Option{
		fetch.WithHTTPClient(httpClient),
		fetch.WithTokenSource(tokens),
		fetch.WithLoadingSignal(loading.Default),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithLogger(logger.Named("fetch")),
	}
	if cfg.ResilienceConfig.EnableFetchBreaker {
		fetchOpts = append(fetchOpts, fetch.WithCircuitBreaker(cfg.ResilienceConfig.FetchBreaker))
	}
	api := fetch.New(cfg.BaseURL, fetchOpts...)

	network := netstate.NewObserver(logger.Named("network"))
	resLogger := logger.Named("resource")

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		adapter:    adapter,
		engine:     engine,
		signal:     loading.Default,
		network:    network,
		tokens:     tokens,
		api:        api,
		events:     resource.NewListStore(events, engine, api, network, resLogger),
		news:       resource.NewListStore(news, engine, api, network, resLogger),
		users:      resource.NewListStore(users, engine, api, network, resLogger),
		schoolInfo: resource.NewStore(school, engine, api, network, resLogger),
	}

	if nc := cfg.NetworkConfig; nc.ProbeURL != "" && nc.ProbeInterval > 0 {
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		poller := netstate.NewPoller(network, nc.ProbeURL, nc.ProbeInterval, nc.ProbeTimeout, logger.Named("probe"))
		c.stopPoller = cancel
		c.pollerDone = make(chan struct{})
		go func() {
			defer close(c.pollerDone)
			poller.Run(pollCtx)
		}()
	}

	return c, nil
}

// NewRedisAdapter builds a Redis store guarded by the configured store
// breaker and retry policy.
func NewRedisAdapter(client redis.Cmdable, prefix string, opts ...config.Option) (*store.Redis, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	rc := cfg.ResilienceConfig
	rt, err := retrier.NewRetrier(rc.MaxRetries, rc.InitialInterval, rc.MaxInterval,
		rc.Multiplier, rc.RandomizationFactor, retrier.ExponentialBackoff, retrier.IsTransient)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}
	return store.NewRedis(client,
		store.WithPrefix(prefix),
		store.WithCircuitBreaker(rc.StoreBreaker),
		store.WithRetrier(rt),
		store.WithLogger(cfg.Logger.Named("redis")),
	), nil
}

// Events returns the events store.
func (c *Client) Events() *ListStore { return c.events }

// News returns the news store.
func (c *Client) News() *ListStore { return c.news }

// Users returns the users store.
func (c *Client) Users() *ListStore { return c.users }

// SchoolInfo returns the school information store.
func (c *Client) SchoolInfo() *ObjectStore { return c.schoolInfo }

// Loading returns the signal toggled by foreground requests.
func (c *Client) Loading() *loading.Signal { return c.signal }

// Network returns the connectivity observer. Platforms without the poller
// feed it through Update.
func (c *Client) Network() *netstate.Observer { return c.network }

// Config returns the effective configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// Do sends an authenticated API request. Silent requests leave the loading
// signal alone.
func (c *Client) Do(ctx context.Context, req *http.Request, silent bool) (*http.Response, error) {
	if silent {
		return c.api.Do(ctx, req, fetch.Silent())
	}
	return c.api.Do(ctx, req)
}

// Get requests path relative to the API base URL.
func (c *Client) Get(ctx context.Context, path string, silent bool) (*http.Response, error) {
	return c.api.Get(ctx, path, silent)
}

// SetToken stores the auth token sent with every request.
func (c *Client) SetToken(ctx context.Context, token string) error {
	return c.tokens.Save(ctx, token)
}

// Token returns the stored auth token, or "".
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// InitializeAll loads every cached resource into memory.
func (c *Client) InitializeAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range c.stores() {
		g.Go(func() error {
			_, err := s.Initialize(ctx)
			return err
		})
	}
	return g.Wait()
}

// ClearAllCaches drops every resource from memory and from the store.
func (c *Client) ClearAllCaches(ctx context.Context) error {
	var first error
	for _, s := range c.stores() {
		if err := s.Reset(ctx); err != nil && first == nil {
			first = err
		}
	}
	if err := c.engine.RemoveAll(ctx, models.AllKeys()); err != nil && first == nil {
		first = err
	}
	return first
}

// Logout forgets the token and every cached resource.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear auth token", zap.Error(err))
		return err
	}
	return c.ClearAllCaches(ctx)
}

// Metrics returns the cache counters.
func (c *Client) Metrics() models.MetricsSnapshot {
	return c.engine.Metrics().Snapshot()
}

// HeldLocks lists refresh locks that are currently held.
func (c *Client) HeldLocks() []LockInfo {
	return c.engine.Locks()
}

// Close stops the poller, waits for background work and closes the store
// when it can be closed.
func (c *Client) Close() error {
	if c.stopPoller != nil {
		c.stopPoller()
		select {
		case <-c.pollerDone:
		case <-time.After(c.cfg.NetworkConfig.ProbeTimeout + time.Second):
			c.logger.Warn("Timed out waiting for network poller")
		}
	}
	for _, s := range c.stores() {
		s.Wait()
	}
	if closer, ok := c.adapter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type lifecycle interface {
	Initialize(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
	Wait()
}

func (c *Client) stores() []lifecycle {
	return []lifecycle{c.events.Store, c.news.Store, c.users.Store, c.schoolInfo}
}
