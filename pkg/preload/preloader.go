package preload

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/incident-api-client/pkg/client"
)

// Config holds batch preloader configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per target
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// Preloader is the part of client.Client the batch preloader needs.
type Preloader interface {
	Preload(ctx context.Context, endpoint string, opts ...client.RequestOption) error
	Cached(ctx context.Context, endpoint string, params url.Values) bool
}

// Target is one endpoint to prime.
type Target struct {
	Endpoint string
	Params   url.Values
}

func (t Target) String() string {
	if len(t.Params) == 0 {
		return t.Endpoint
	}
	return t.Endpoint + "?" + t.Params.Encode()
}

// Failure records a target that could not be loaded.
type Failure struct {
	Target Target
	Err    error
}

// Result summarizes one batch.
type Result struct {
	Loaded   []Target
	Skipped  []Target
	Failed   []Failure
	Duration time.Duration
}

// Err summarizes the failures as one error, or returns nil when there are none.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("preload failed for %d of %d targets: first: %s: %w",
		len(r.Failed), len(r.Loaded)+len(r.Skipped)+len(r.Failed), r.Failed[0].Target, r.Failed[0].Err)
}

// BatchPreloader primes many targets with bounded concurrency
type BatchPreloader struct {
	preloader Preloader
	config    Config
}

// NewBatchPreloader creates a new batch preloader
func NewBatchPreloader(preloader Preloader, config Config) *BatchPreloader {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &BatchPreloader{
		preloader: preloader,
		config:    config,
	}
}

// Run loads every target that is not cached yet. A failing target never
// stops the others; failures are reported in the Result. Cancelling ctx
// fails targets that have not started.
func (bp *BatchPreloader) Run(ctx context.Context, targets []Target, opts ...client.RequestOption) Result {
	start := time.Now()

	var (
		mu     sync.Mutex
		result Result
	)
	fail := func(target Target, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Failed = append(result.Failed, Failure{Target: target, Err: err})
	}

	g := new(errgroup.Group)
	g.SetLimit(bp.config.MaxConcurrency)

	for _, target := range targets {
		if bp.preloader.Cached(ctx, target.Endpoint, target.Params) {
			result.Skipped = append(result.Skipped, target)
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(target, err)
				return nil
			}

			targetCtx, cancel := context.WithTimeout(ctx, bp.config.Timeout)
			defer cancel()

			callOpts := append([]client.RequestOption{client.WithParams(target.Params)}, opts...)
			if err := bp.preloader.Preload(targetCtx, target.Endpoint, callOpts...); err != nil {
				log.Warn().
					Err(err).
					Str("target", target.String()).
					Msg("Preload failed")
				fail(target, err)
				return nil
			}

			mu.Lock()
			result.Loaded = append(result.Loaded, target)
			mu.Unlock()
			return nil
		})
	}

	// workers never return an error
	_ = g.Wait()

	result.Duration = time.Since(start)
	log.Info().
		Int("loaded", len(result.Loaded)).
		Int("skipped", len(result.Skipped)).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("Preload complete")

	return result
}
