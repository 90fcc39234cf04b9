package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPurgeInterval is how often a Janitor sweeps expired entries.
const DefaultPurgeInterval = 5 * time.Minute

// MinPurgeInterval is the finest interval the cron scheduler can honour.
const MinPurgeInterval = time.Second

// Purger is anything that can drop its expired entries.
type Purger interface {
	PurgeExpired() int
}

// Janitor periodically purges a store. The store never schedules itself;
// whoever owns the Janitor owns the timer.
type Janitor struct {
	store    Purger
	cron     *cron.Cron
	interval time.Duration
	logger   zerolog.Logger
}

// NewJanitor schedules store.PurgeExpired every interval.
// An interval <= 0 uses DefaultPurgeInterval; a positive interval below
// MinPurgeInterval is rejected.
func NewJanitor(store Purger, interval time.Duration, logger zerolog.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if interval < MinPurgeInterval {
		return nil, fmt.Errorf("purge interval must be at least %s (got %s)", MinPurgeInterval, interval)
	}

	j := &Janitor{
		store:    store,
		cron:     cron.New(),
		interval: interval,
		logger:   logger,
	}

	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { j.RunOnce() }); err != nil {
		return nil, fmt.Errorf("schedule purge: %w", err)
	}

	return j, nil
}

// Start runs an initial purge and then starts the schedule.
func (j *Janitor) Start() {
	j.RunOnce()
	j.cron.Start()
	j.logger.Debug().Dur("interval", j.interval).Msg("Cache janitor started")
}

// Stop halts the schedule. The returned context is done once a running purge finishes.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// RunOnce purges immediately and returns the number of removed entries.
func (j *Janitor) RunOnce() int {
	purged := j.store.PurgeExpired()
	if purged > 0 {
		j.logger.Info().Int("purged", purged).Msg("Cache cleanup removed expired entries")
	}
	return purged
}
