package dispatch

import (
	"context"
	"log/slog"
	"time"
)

const shutdownDrainTimeout = 30 * time.Second

// Scheduler runs dispatch cycles on a fixed cadence, independent of any
// reminder's lead time. Each tick drains the due backlog in bounded batches.
type Scheduler struct {
	interval   time.Duration
	dispatcher *Dispatcher
}

// NewScheduler creates a periodic driver for the given dispatcher.
func NewScheduler(interval time.Duration, dispatcher *Dispatcher) *Scheduler {
	return &Scheduler{
		interval:   interval,
		dispatcher: dispatcher,
	}
}

// Start begins periodic dispatching.
// Runs until context is cancelled, then performs one final bounded drain so
// in-flight claims get marked instead of orphaned.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting dispatch scheduler",
		"interval", s.interval,
		"claimant", s.dispatcher.Claimant(),
		"batch_limit", s.dispatcher.opts.BatchLimit,
		"concurrency", s.dispatcher.opts.Concurrency)

	// Catch up with anything that came due while the process was down.
	s.drainBacklog(ctx)

	for {
		select {
		case <-ticker.C:
			s.drainBacklog(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
			defer cancel()

			slog.Info("[Scheduler] Running final drain before shutdown...")
			s.drainBacklog(shutdownCtx)
			slog.Info("[Scheduler] Final drain complete")

			return nil
		}
	}
}

// drainBacklog runs dispatch cycles until a cycle scans fewer candidates
// than the batch limit, meaning the due backlog is empty for now.
func (s *Scheduler) drainBacklog(ctx context.Context) {
	cycleCount := 0
	maxConsecutiveCycles := 100 // Safety limit to prevent infinite loop

	for cycleCount < maxConsecutiveCycles {
		select {
		case <-ctx.Done():
			slog.Info("[Scheduler] Drain interrupted by context cancellation",
				"cycles_run", cycleCount)
			return
		default:
		}

		scanned, err := s.dispatcher.RunCycle(ctx)
		if err != nil {
			if StoreUnavailable(err) {
				// Whole-store outage: nothing was mutated, retry wholesale
				// on the next tick.
				slog.Warn("[Scheduler] Store unavailable, skipping cycle", "error", err)
			} else {
				slog.Error("[Scheduler] Dispatch cycle failed", "error", err, "cycle_number", cycleCount+1)
			}
			return
		}

		cycleCount++

		if scanned < s.dispatcher.opts.BatchLimit {
			if cycleCount > 1 {
				slog.Info("[Scheduler] Backlog drained", "total_cycles", cycleCount)
			}
			return
		}

		slog.Info("[Scheduler] Backlog detected, continuing to drain", "cycles_so_far", cycleCount)
	}

	slog.Warn("[Scheduler] Max consecutive cycles reached, pausing drain",
		"max_cycles", maxConsecutiveCycles,
		"note", "Will resume on next tick")
}
