// Package scheduler runs the engine's periodic jobs (timeout reaper, outbox
// relay) on fixed cadences. Each loop exits when its context is cancelled.
package scheduler

import (
	"context"
	"log"
	"time"
)

// Job is one periodic unit of work. Errors are logged, never fatal: the next
// tick retries.
type Job func(ctx context.Context) error

// Run invokes job immediately and then on every tick until ctx is done. The
// reaper's cadence should stay at or below half the offer timeout so no
// offer overshoots its deadline by more than half an interval.
func Run(ctx context.Context, name string, interval time.Duration, job Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := job(ctx); err != nil {
			log.Printf("scheduler: %s run: %v", name, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
