// Package janitor prunes aged bars from the cache on a cron schedule
// so long-running daemons do not grow the database without bound.
package janitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"chart-replay/internal/model"
)

const pruneTimeout = time.Minute

// Janitor deletes cache rows older than the retention window.
type Janitor struct {
	cron      *cron.Cron
	store     model.BarStore
	retention time.Duration

	// OnPrune, when set, receives the removed-row count after each run.
	OnPrune func(removed int64)
}

// New creates a Janitor. retentionDays must be positive; callers
// should skip construction entirely when retention is disabled.
func New(store model.BarStore, retentionDays int) *Janitor {
	return &Janitor{
		cron:      cron.New(),
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Register adds the prune job under the given cron expression.
func (j *Janitor) Register(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.Prune); err != nil {
		return fmt.Errorf("register prune job %q: %w", schedule, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (j *Janitor) Start() {
	j.cron.Start()
	log.Printf("[janitor] started, retention=%s", j.retention)
}

// Stop stops the cron scheduler. Running jobs finish.
func (j *Janitor) Stop() {
	j.cron.Stop()
	log.Printf("[janitor] stopped")
}

// Prune runs one retention pass. Exported for manual triggering.
func (j *Janitor) Prune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	cutoff := time.Now().Add(-j.retention).UnixMilli()
	removed, err := j.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("[janitor] prune failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[janitor] pruned %d bars older than %s", removed, time.UnixMilli(cutoff).UTC().Format(time.RFC3339))
	}
	if j.OnPrune != nil {
		j.OnPrune(removed)
	}
}
