// Package fetch wraps outbound API requests: it injects the bearer token and
// drives the loading signal for foreground work.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/loading"
)

// TokenSource yields the current auth token. An empty token means signed out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Client.
type Option func(*Client)

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLoadingSignal sets the signal toggled by foreground requests.
func WithLoadingSignal(s *loading.Signal) Option {
	return func(c *Client) {
		if s != nil {
			c.signal = s
		}
	}
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithCircuitBreaker trips on consecutive transport failures. HTTP error
// statuses never count as failures.
func WithCircuitBreaker(settings gobreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client sends authenticated requests to the school API.
type Client struct {
	baseURL   string
	http      Doer
	tokens    TokenSource
	signal    *loading.Signal
	breaker   *gobreaker.CircuitBreaker
	userAgent string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		signal:  loading.Default,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("freshen/fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestOptions struct {
	silent bool
}

// RequestOption tunes a single request.
type RequestOption func(*requestOptions)

// Silent keeps the request off the loading signal. Background revalidation
// uses it so the global spinner does not flash.
func Silent() RequestOption {
	return func(o *requestOptions) { o.silent = true }
}

// Do sends req with the bearer token attached unless the request already
// carries an Authorization header. Non-2xx responses are returned as is.
// Transport failures are returned as NetworkError.
func (c *Client) Do(ctx context.Context, req *http.Request, opts ...RequestOption) (*http.Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "Client.Do", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL.String()),
		attribute.Bool("silent", o.silent),
	))
	defer span.End()

	if !o.silent {
		c.signal.Increment()
		defer c.signal.Decrement()
	}

	req = req.Clone(ctx)
	if c.tokens != nil && !hasAuthorization(req.Header) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.logger.Warn("Failed to read auth token", zap.Error(err))
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.send(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Debug("Request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return nil, fault.Network(err, req.Method+" "+req.URL.String())
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// Get requests path relative to the base URL.
func (c *Client) Get(ctx context.Context, p string, silent bool) (*http.Response, error) {
	u, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var opts []RequestOption
	if silent {
		opts = append(opts, Silent())
	}
	return c.Do(ctx, req, opts...)
}

// BaseURL returns the API root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(req)
	}
	v, err := c.breaker.Execute(func() (any, error) {
		return c.http.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("Circuit breaker rejected request", zap.String("url", req.URL.String()))
		}
		return nil, err
	}
	return v.(*http.Response), nil
}

func (c *Client) resolve(p string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if i := strings.Index(p, "?"); i != -1 {
		u.RawQuery = p[i+1:]
		p = p[:i]
	}
	if p != "" {
		u.Path = path.Join(u.Path, p)
	}
	return u.String(), nil
}

func hasAuthorization(h http.Header) bool {
	for k, v := range h {
		if strings.EqualFold(k, "Authorization") && len(v) > 0 {
			return true
		}
	}
	return false
}
