// Package client provides the API request coordinator with read-through
// caching, deduplication of concurrent GETs, retry with backoff, timeouts,
// and explicit cancellation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/incident-api-client/pkg/cache"
	"github.com/Sternrassler/incident-api-client/pkg/logging"
)

// Client coordinates outbound API calls.
type Client struct {
	transport Transport
	cache     cache.Backend
	config    Config
	logger    zerolog.Logger

	group   singleflight.Group
	handles *handleTable
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prefixed to every endpoint (e.g. "https://irt.example.com/api")
	BaseURL string

	// DefaultHeaders are sent with every request; per-call headers override them
	DefaultHeaders map[string]string

	// UserAgent header (optional)
	UserAgent string

	// Timeout bounds a whole logical request, retries included
	Timeout time.Duration

	// Retry
	Retries    int
	RetryDelay time.Duration

	// Caching
	CacheTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		DefaultHeaders: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Timeout:    10 * time.Second,
		Retries:    2,
		RetryDelay: 1 * time.Second,
		CacheTTL:   cache.DefaultTTL,
	}
}

// New creates a new client. Without options it caches in a private
// in-memory store and talks net/http.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0 (got %d)", cfg.Retries)
	}
	if cfg.Timeout < 0 || cfg.RetryDelay < 0 || cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		config:  cfg,
		logger:  logging.NewLogger("api-client"),
		handles: newHandleTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(nil)
	}
	if c.cache == nil {
		c.cache = cache.NewStore(cache.WithDefaultTTL(cfg.CacheTTL), cache.WithLogger(c.logger))
	}

	return c, nil
}

// Request performs a logical request and returns the response body.
//
// For GET, concurrent identical calls share one in-flight request and a fresh
// cached body is returned without touching the network. Mutating verbs always
// go to the network and never touch the cache.
func (c *Client) Request(ctx context.Context, endpoint string, opts ...RequestOption) (json.RawMessage, error) {
	o := c.resolveOptions(opts)
	key := cache.RequestKey(endpoint, o.method, o.params, o.data)

	start := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(o.method).Observe(time.Since(start).Seconds())
	}()

	if o.deduplicate {
		return c.shared(ctx, key, endpoint, o)
	}
	return c.fetch(ctx, key, endpoint, o)
}

// shared joins or starts the in-flight request for key. The shared call is
// detached from the caller that started it; every caller still leaves early
// when its own ctx ends.
func (c *Client) shared(ctx context.Context, key, endpoint string, o *requestOptions) (json.RawMessage, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(detached, key, endpoint, o)
	})

	select {
	case res := <-ch:
		if res.Shared {
			apiDeduplicatedTotal.Inc()
			c.logger.Debug().Str("key", key).Msg("Request deduplicated")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		// waiters share one result; each gets its own bytes
		return bytes.Clone(res.Val.(json.RawMessage)), nil
	case <-ctx.Done():
		return nil, contextError(ctx, o.timeout)
	}
}

// fetch runs one logical request: cache lookup, network, write-back. The
// timeout budget and the abort handle cover all three phases and are
// released when it returns.
func (c *Client) fetch(ctx context.Context, key, endpoint string, o *requestOptions) (json.RawMessage, error) {
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, o.timeout, errBudgetExceeded)
		defer cancel()
	}

	handle := c.handles.add(key, abort)
	defer c.handles.remove(handle)

	if o.cache && !o.forceRefresh {
		payload, ok := c.lookup(ctx, key)
		if ctx.Err() != nil {
			return nil, contextError(ctx, o.timeout)
		}
		if ok {
			return payload, nil
		}
	}

	payload, err := c.execute(ctx, key, endpoint, o)
	if err != nil {
		return nil, err
	}

	if o.cache {
		if err := c.cache.Save(ctx, key, payload, o.cacheDuration); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		} else {
			c.logger.Debug().Str("key", key).Dur("ttl", o.cacheDuration).Msg("Cached response")
		}
	}
	return payload, nil
}

func (c *Client) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	payload, err := c.cache.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && ctx.Err() == nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache get error")
		}
		c.logger.Debug().Str("key", key).Bool("cache_hit", false).Msg("Cache lookup")
		return nil, false
	}

	c.logger.Debug().Str("key", key).Bool("cache_hit", true).Msg("Cache lookup")
	apiRequestsTotal.WithLabelValues(http.MethodGet, "cache_hit").Inc()
	return payload, true
}

// execute runs the network part of a request with retries. ctx already
// carries the timeout budget and the abort handle.
func (c *Client) execute(ctx context.Context, key, endpoint string, o *requestOptions) (json.RawMessage, error) {
	call, verr := c.buildCall(endpoint, o)
	if verr != nil {
		return nil, verr
	}

	loop := &attemptLoop{client: c, key: key, call: call, opts: o}
	return loop.run(ctx)
}

// attempt performs one network call and classifies the outcome.
func (c *Client) attempt(ctx context.Context, call *Call) (json.RawMessage, *Error) {
	resp, err := c.transport.RoundTrip(ctx, call)
	if err != nil {
		apiRequestsTotal.WithLabelValues(call.Method, "network_error").Inc()
		return nil, NewNetworkError(err)
	}

	apiRequestsTotal.WithLabelValues(call.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewAPIError(resp.StatusCode, fmt.Sprintf("%s %s", call.Method, http.StatusText(resp.StatusCode)), resp.Body)
	}

	if len(resp.Body) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(resp.Body), nil
}

// buildCall resolves URL, headers and body for one logical request.
func (c *Client) buildCall(endpoint string, o *requestOptions) (*Call, *Error) {
	target := c.config.BaseURL + endpoint
	if len(o.params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + o.params.Encode()
	}

	header := make(http.Header, len(c.config.DefaultHeaders)+len(o.headers)+2)
	for k, v := range c.config.DefaultHeaders {
		header.Set(k, v)
	}
	for k, v := range o.headers {
		header.Set(k, v)
	}
	if c.config.UserAgent != "" {
		header.Set("User-Agent", c.config.UserAgent)
	}
	header.Set("X-Request-ID", uuid.NewString())

	call := &Call{URL: target, Method: o.method, Header: header}

	if o.method != http.MethodGet && o.data != nil {
		switch body := o.data.(type) {
		case []byte:
			call.Body = body
		case json.RawMessage:
			call.Body = body
		default:
			encoded, err := json.Marshal(body)
			if err != nil {
				e := NewValidationError("request body is not JSON encodable", nil)
				e.Err = err
				return nil, e
			}
			call.Body = encoded
		}
	}

	return call, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, opts ...RequestOption) (json.RawMessage, error) {
	return c.Request(ctx, endpoint, append(opts, WithMethod(http.MethodGet))...)
}

// Post performs a POST request with data as body. The cache is bypassed.
func (c *Client) Post(ctx context.Context, endpoint string, data any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Request(ctx, endpoint, append(opts, WithMethod(http.MethodPost), WithData(data), WithCaching(false))...)
}

// Put performs a PUT request with data as body. The cache is bypassed.
func (c *Client) Put(ctx context.Context, endpoint string, data any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Request(ctx, endpoint, append(opts, WithMethod(http.MethodPut), WithData(data), WithCaching(false))...)
}

// Patch performs a PATCH request with data as body. The cache is bypassed.
func (c *Client) Patch(ctx context.Context, endpoint string, data any, opts ...RequestOption) (json.RawMessage, error) {
	return c.Request(ctx, endpoint, append(opts, WithMethod(http.MethodPatch), WithData(data), WithCaching(false))...)
}

// Delete performs a DELETE request. The cache is bypassed.
func (c *Client) Delete(ctx context.Context, endpoint string, opts ...RequestOption) (json.RawMessage, error) {
	return c.Request(ctx, endpoint, append(opts, WithMethod(http.MethodDelete), WithCaching(false))...)
}

// Preload fetches endpoint into the cache. The body is discarded.
func (c *Client) Preload(ctx context.Context, endpoint string, opts ...RequestOption) error {
	_, err := c.Get(ctx, endpoint, append(opts, WithCaching(true))...)
	return err
}

// Cached reports whether a fresh GET response for endpoint+params is cached.
func (c *Client) Cached(ctx context.Context, endpoint string, params url.Values) bool {
	_, err := c.cache.Load(ctx, c.RequestKey(endpoint, http.MethodGet, params, nil))
	return err == nil
}

// InvalidateCache drops the cached GET response for endpoint+params.
func (c *Client) InvalidateCache(ctx context.Context, endpoint string, params url.Values) bool {
	key := c.RequestKey(endpoint, http.MethodGet, params, nil)
	removed, err := c.cache.Remove(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to invalidate cache entry")
		return false
	}
	if removed {
		c.logger.Debug().Str("key", key).Msg("Cache entry invalidated")
	}
	return removed
}

// CancelRequest aborts the in-flight GET for endpoint+params.
// The pending call fails with a KindCancelled error.
//
// Mutating calls are tracked under a key that includes their method and body;
// cancel them with CancelKey(RequestKey(endpoint, method, params, data)).
func (c *Client) CancelRequest(endpoint string, params url.Values) bool {
	return c.CancelKey(c.RequestKey(endpoint, http.MethodGet, params, nil))
}

// CancelKey aborts every in-flight call registered under key, whatever its
// method. Keys come from RequestKey.
func (c *Client) CancelKey(key string) bool {
	n := c.handles.cancelKey(key, errAborted)
	c.group.Forget(key)
	if n > 0 {
		c.logger.Debug().Str("key", key).Int("handles", n).Msg("Request cancelled")
	}
	return n > 0
}

// CancelAllRequests aborts every in-flight call and returns how many keys were affected.
func (c *Client) CancelAllRequests() int {
	keys := c.handles.cancelAll(errAborted)
	for _, key := range keys {
		c.group.Forget(key)
	}
	if len(keys) > 0 {
		c.logger.Info().Int("keys", len(keys)).Msg("Cancelled all in-flight requests")
	}
	return len(keys)
}

// RequestKey returns the key used for caching and deduplication.
func (c *Client) RequestKey(endpoint, method string, params url.Values, data any) string {
	return cache.RequestKey(endpoint, method, params, data)
}

// InFlight reports whether a call for key currently holds an abort handle.
func (c *Client) InFlight(key string) bool {
	return c.handles.has(key)
}

// PendingRequests returns the number of calls currently holding an abort handle.
func (c *Client) PendingRequests() int {
	return c.handles.count()
}

// Close aborts all in-flight requests.
func (c *Client) Close() error {
	c.CancelAllRequests()
	return nil
}

// GetJSON performs a GET and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, endpoint string, opts ...RequestOption) (T, error) {
	var out T

	payload, err := c.Get(ctx, endpoint, opts...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return out, nil
}
