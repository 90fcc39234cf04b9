package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/incident-api-client/pkg/cache"
	"github.com/Sternrassler/incident-api-client/pkg/client"
	"github.com/Sternrassler/incident-api-client/pkg/logging"
	"github.com/Sternrassler/incident-api-client/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// proxyConfig is read from the environment.
type proxyConfig struct {
	UpstreamURL    string
	Port           string
	RedisURL       string
	PurgeInterval  time.Duration
	RequestTimeout time.Duration
	Retries        int
	RetryDelay     time.Duration
	UserAgent      string
}

func loadConfig(getenv func(string) string) (proxyConfig, error) {
	env := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := proxyConfig{
		UpstreamURL: env("UPSTREAM_URL", "http://localhost:9000/api"),
		Port:        env("PORT", "8080"),
		RedisURL:    env("REDIS_URL", ""),
		UserAgent:   env("USER_AGENT", "incident-api-proxy/0.1.0"),
	}

	var err error
	if cfg.PurgeInterval, err = time.ParseDuration(env("PURGE_INTERVAL", "5m")); err != nil {
		return cfg, fmt.Errorf("PURGE_INTERVAL: %w", err)
	}
	if cfg.PurgeInterval > 0 && cfg.PurgeInterval < cache.MinPurgeInterval {
		return cfg, fmt.Errorf("PURGE_INTERVAL: must be at least %s", cache.MinPurgeInterval)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(env("REQUEST_TIMEOUT", "10s")); err != nil {
		return cfg, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	if cfg.RetryDelay, err = time.ParseDuration(env("RETRY_DELAY", "1s")); err != nil {
		return cfg, fmt.Errorf("RETRY_DELAY: %w", err)
	}
	if cfg.Retries, err = strconv.Atoi(env("RETRIES", "2")); err != nil {
		return cfg, fmt.Errorf("RETRIES: %w", err)
	}

	return cfg, nil
}

func main() {
	logger := logging.Setup(logging.ConfigFromEnv(os.Getenv))

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg proxyConfig, logger zerolog.Logger) error {
	p, cleanup, err := newProxy(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           p.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("upstream", cfg.UpstreamURL).
			Str("user_agent", cfg.UserAgent).
			Msg("Starting incident API proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// proxy serves a cached view of the upstream incident API.
type proxy struct {
	api    *client.Client
	store  *cache.Store  // nil with Redis
	redis  *redis.Client // nil without Redis
	logger zerolog.Logger
}

// newProxy wires the cache backend and the coordinator. The returned cleanup
// stops the janitor and closes Redis.
func newProxy(ctx context.Context, cfg proxyConfig, logger zerolog.Logger) (*proxy, func(), error) {
	clientCfg := client.DefaultConfig(cfg.UpstreamURL)
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Timeout = cfg.RequestTimeout
	clientCfg.Retries = cfg.Retries
	clientCfg.RetryDelay = cfg.RetryDelay

	p := &proxy{logger: logger}
	var (
		backend  cache.Backend
		closers  []func()
		apiOpts  = []client.Option{client.WithLogger(logger.With().Str("component", "api-client").Logger())}
		closeAll = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(redisURL(cfg.RedisURL))
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		p.redis = redis.NewClient(opts)
		closers = append(closers, func() { p.redis.Close() })

		if err := p.redis.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
		backend = cache.NewRedisStore(p.redis, nil)
	} else {
		p.store = cache.NewStore(
			cache.WithDefaultTTL(clientCfg.CacheTTL),
			cache.WithLogger(logger.With().Str("component", "cache").Logger()),
		)
		backend = p.store

		janitor, err := cache.NewJanitor(p.store, cfg.PurgeInterval, logger.With().Str("component", "janitor").Logger())
		if err != nil {
			return nil, nil, err
		}
		janitor.Start()
		closers = append(closers, func() { <-janitor.Stop().Done() })
	}
	apiOpts = append(apiOpts, client.WithCacheBackend(backend))

	api, err := client.New(clientCfg, apiOpts...)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create api client: %w", err)
	}
	p.api = api
	closers = append(closers, func() { api.Close() })

	return p, closeAll, nil
}

// redisURL accepts both "host:port" and full redis:// URLs.
func redisURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "redis://" + raw
}

func (p *proxy) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", p.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/cache", p.cacheStatsHandler)
	mux.HandleFunc("/api/", p.apiHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (p *proxy) readyHandler(w http.ResponseWriter, r *http.Request) {
	if p.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.redis.Ping(ctx).Err(); err != nil {
			p.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type cacheStats struct {
	Backend  string       `json:"backend"`
	Stats    *cache.Stats `json:"stats,omitempty"`
	InFlight int          `json:"in_flight"`
}

func (p *proxy) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	out := cacheStats{Backend: "redis", InFlight: p.api.PendingRequests()}
	if p.store != nil {
		stats := p.store.GetStats()
		out.Backend = "memory"
		out.Stats = &stats
	}
	writeJSON(w, http.StatusOK, out)
}

// apiHandler forwards /api/* to the upstream. GETs go through cache and
// dedup; mutations go straight through and invalidate the cached GET.
func (p *proxy) apiHandler(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx := logging.WithRequestID(r.Context(), p.logger, requestID)
	logger := zerolog.Ctx(ctx)
	w.Header().Set("X-Request-ID", requestID)

	endpoint := strings.TrimPrefix(r.URL.Path, "/api")
	params := r.URL.Query()

	var (
		body []byte
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		opts := []client.RequestOption{client.WithParams(params)}
		if strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
			opts = append(opts, client.WithForceRefresh())
		}
		body, err = p.api.Get(ctx, endpoint, opts...)

	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		var payload []byte
		payload, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, client.NewValidationError("unreadable request body", nil))
			return
		}

		opts := []client.RequestOption{client.WithMethod(r.Method), client.WithParams(params)}
		if len(payload) > 0 {
			opts = append(opts, client.WithData(json.RawMessage(payload)))
		}
		body, err = p.api.Request(ctx, endpoint, opts...)
		if err == nil {
			p.api.InvalidateCache(ctx, endpoint, nil)
			if len(params) > 0 {
				p.api.InvalidateCache(ctx, endpoint, params)
			}
		}

	default:
		w.Header().Set("Allow", "GET, POST, PUT, PATCH, DELETE")
		writeError(w, client.NewValidationError("method not allowed", map[string]string{"method": r.Method}))
		return
	}

	if err != nil {
		client.LogError(*logger, err, r.Method+" "+endpoint)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

type errorBody struct {
	Error   string           `json:"error"`
	Kind    client.ErrorKind `json:"kind"`
	ErrorID string           `json:"error_id,omitempty"`
}

// writeError maps an error kind to an HTTP status. Upstream API errors keep
// their status and body.
func writeError(w http.ResponseWriter, err error) {
	var e *client.Error
	errors.As(err, &e)

	kind := client.KindOf(err)
	if kind == client.KindAPI && e != nil && len(e.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(e.StatusCode)
		w.Write(e.Body)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case client.KindAPI:
		status = e.StatusCode
	case client.KindNetwork:
		status = http.StatusBadGateway
	case client.KindTimeout:
		status = http.StatusGatewayTimeout
	case client.KindCancelled:
		status = http.StatusServiceUnavailable
	case client.KindValidation:
		status = http.StatusBadRequest
		if e != nil && e.Message == "method not allowed" {
			status = http.StatusMethodNotAllowed
		}
	}

	out := errorBody{Error: client.UserMessage(err), Kind: kind}
	if e != nil {
		out.ErrorID = e.ID
	}
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
