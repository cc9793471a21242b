package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultCleanupAge      = 24 * time.Hour
	DefaultCleanupSchedule = "@every 1h"
)

// Janitor periodically removes sessions that have not been updated within
// the cleanup age.
type Janitor struct {
	store      *Store
	cleanupAge time.Duration
	schedule   string
	logger     zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor creates a janitor for store. Zero values select the defaults.
func NewJanitor(store *Store, cleanupAge time.Duration, schedule string, logger zerolog.Logger) *Janitor {
	if cleanupAge <= 0 {
		cleanupAge = DefaultCleanupAge
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	return &Janitor{
		store:      store,
		cleanupAge: cleanupAge,
		schedule:   schedule,
		logger:     logger,
	}
}

// Start schedules the cleanup job.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(j.schedule, j.RunOnce); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", j.schedule, err)
	}
	c.Start()

	j.cron = c
	j.running = true

	j.logger.Info().
		Dur("cleanup_age", j.cleanupAge).
		Str("schedule", j.schedule).
		Msg("Session cleanup started")

	return nil
}

// Stop cancels the schedule and waits for a running cleanup to finish.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return fmt.Errorf("janitor is not running")
	}

	<-j.cron.Stop().Done()
	j.running = false

	j.logger.Info().Msg("Session cleanup stopped")

	return nil
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce() {
	removed := j.store.CleanupOlderThan(context.Background(), j.cleanupAge)
	if removed > 0 {
		j.logger.Info().
			Int("removed", removed).
			Msg("Cleaned up old sessions")
	}
}
