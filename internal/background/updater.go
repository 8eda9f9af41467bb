// Package background runs the periodic jobs that keep stored state
// aligned with the clock.
package background

import (
	"context"
	"log"
	"time"

	"github.com/eventpulse/admission/internal/store"
)

// DefaultSyncInterval is how often event statuses are reconciled against
// the clock.
const DefaultSyncInterval = time.Minute

// StatusUpdater advances event statuses as their start and end times
// pass: UPCOMING events become IN_PROGRESS, then COMPLETED. Completion is
// what closes an event to late joins.
type StatusUpdater struct {
	store    store.EventStore
	interval time.Duration
}

// NewStatusUpdater constructs an updater; a non-positive interval falls
// back to DefaultSyncInterval.
func NewStatusUpdater(st store.EventStore, interval time.Duration) *StatusUpdater {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &StatusUpdater{store: st, interval: interval}
}

// Run syncs on every tick until the context is cancelled. It is meant to
// be launched as a goroutine from main.
func (u *StatusUpdater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Sync(ctx)
		}
	}
}

// Sync performs one reconciliation pass.
func (u *StatusUpdater) Sync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	started, completed, err := u.store.SyncEventStatuses(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("ERROR: event status sync: %v", err)
		return
	}
	if started > 0 || completed > 0 {
		log.Printf("event status sync: %d started, %d completed", started, completed)
	}
}
