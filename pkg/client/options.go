package client

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/incident-api-client/pkg/cache"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithCacheBackend replaces the default in-memory store.
func WithCacheBackend(backend cache.Backend) Option {
	return func(c *Client) {
		if backend != nil {
			c.cache = backend
		}
	}
}

// WithTransport replaces the default net/http transport.
func WithTransport(transport Transport) Option {
	return func(c *Client) {
		if transport != nil {
			c.transport = transport
		}
	}
}

// WithHTTPClient uses httpClient for the default transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransport(httpClient)
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// requestOptions is the resolved per-call configuration.
type requestOptions struct {
	method        string
	params        url.Values
	data          any
	headers       map[string]string
	cache         bool
	cacheDuration time.Duration
	retries       int
	retryDelay    time.Duration
	deduplicate   bool
	timeout       time.Duration
	forceRefresh  bool
}

// RequestOption overrides a per-call setting.
type RequestOption func(*requestOptions)

// WithMethod sets the HTTP verb. Defaults to GET.
func WithMethod(method string) RequestOption {
	return func(o *requestOptions) {
		o.method = strings.ToUpper(method)
	}
}

// WithParams sets query parameters. They are part of the request key.
func WithParams(params url.Values) RequestOption {
	return func(o *requestOptions) {
		o.params = params
	}
}

// WithData sets the request body. []byte and json.RawMessage are sent as-is,
// anything else is JSON-encoded. GET requests never send a body.
func WithData(data any) RequestOption {
	return func(o *requestOptions) {
		o.data = data
	}
}

// WithHeaders adds headers on top of the configured defaults.
func WithHeaders(headers map[string]string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithCaching toggles cache read-through. It has no effect on mutating verbs.
func WithCaching(enabled bool) RequestOption {
	return func(o *requestOptions) {
		o.cache = enabled
	}
}

// WithCacheDuration sets the TTL used when writing the response back.
func WithCacheDuration(ttl time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.cacheDuration = ttl
	}
}

// WithRetries sets how many retries follow the first attempt.
func WithRetries(retries int) RequestOption {
	return func(o *requestOptions) {
		if retries >= 0 {
			o.retries = retries
		}
	}
}

// WithRetryDelay sets the backoff base. The wait after attempt i is delay * 2^i.
func WithRetryDelay(delay time.Duration) RequestOption {
	return func(o *requestOptions) {
		if delay >= 0 {
			o.retryDelay = delay
		}
	}
}

// WithDeduplication toggles coalescing of concurrent identical GETs.
func WithDeduplication(enabled bool) RequestOption {
	return func(o *requestOptions) {
		o.deduplicate = enabled
	}
}

// WithTimeout bounds the whole call, retries and backoff included.
// Zero disables the budget.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		if timeout >= 0 {
			o.timeout = timeout
		}
	}
}

// WithForceRefresh skips the cache read but still writes the fresh result back.
func WithForceRefresh() RequestOption {
	return func(o *requestOptions) {
		o.forceRefresh = true
	}
}

func (c *Client) resolveOptions(opts []RequestOption) *requestOptions {
	o := &requestOptions{
		method:        http.MethodGet,
		cache:         true,
		cacheDuration: c.config.CacheTTL,
		retries:       c.config.Retries,
		retryDelay:    c.config.RetryDelay,
		deduplicate:   true,
		timeout:       c.config.Timeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.method == "" {
		o.method = http.MethodGet
	}

	// Mutating verbs are never cached nor coalesced.
	if o.method != http.MethodGet {
		o.cache = false
		o.deduplicate = false
	}
	return o
}
