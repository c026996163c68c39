package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
	"github.com/remind-lab/remindd/internal/core/storage"
	"github.com/remind-lab/remindd/internal/notify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchLimit  = 100
	defaultConcurrency = 8
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Minute
	defaultBackoffCap  = time.Hour
)

// Options controls batch size, parallelism and the retry policy of one
// dispatcher instance.
type Options struct {
	BatchLimit  int
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultOptions returns safe defaults for periodic dispatching.
func DefaultOptions() Options {
	return Options{
		BatchLimit:  defaultBatchLimit,
		Concurrency: defaultConcurrency,
		MaxAttempts: defaultMaxAttempts,
		BackoffBase: defaultBackoffBase,
		BackoffCap:  defaultBackoffCap,
	}
}

func (o Options) normalized() Options {
	n := o
	if n.BatchLimit <= 0 {
		n.BatchLimit = defaultBatchLimit
	}
	if n.Concurrency <= 0 {
		n.Concurrency = defaultConcurrency
	}
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = defaultMaxAttempts
	}
	if n.BackoffBase <= 0 {
		n.BackoffBase = defaultBackoffBase
	}
	if n.BackoffCap <= 0 {
		n.BackoffCap = defaultBackoffCap
	}
	return n
}

// Dispatcher runs the scan / claim / notify / mark pipeline.
//
// Correctness does not depend on being the only instance: the claimant
// token plus the store's atomic TryClaim let any number of processes scan
// the same backend without double delivery.
type Dispatcher struct {
	store    storage.EventStore
	notifier notify.Notifier
	claimant string
	opts     Options
	now      func() time.Time
}

// New creates a dispatcher with a process-unique claimant token.
func New(store storage.EventStore, notifier notify.Notifier, opts Options) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		claimant: uuid.NewString(),
		opts:     opts.normalized(),
		now:      time.Now,
	}
}

// Claimant returns this instance's claim token.
func (d *Dispatcher) Claimant() string {
	return d.claimant
}

// RunCycle executes one dispatch cycle and returns the number of candidates
// scanned. Per-event failures are isolated and logged; only a store-wide
// outage makes the cycle itself fail, leaving all event state untouched for
// the next tick.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	now := d.now().UTC()

	candidates, err := d.store.FindDue(ctx, now, d.opts.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("scan due reminders: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	slog.Debug("[Dispatch] Cycle scan",
		"candidates", len(candidates),
		"claimant", d.claimant)

	var delivered, failed, skipped atomic.Int64

	// Candidates are independent: claim races and notifier hiccups on one
	// never block the rest of the batch.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for _, evt := range candidates {
		g.Go(func() error {
			switch d.dispatchOne(gctx, evt, now) {
			case outcomeDelivered:
				delivered.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeSkipped:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("[Dispatch] Cycle complete",
		"candidates", len(candidates),
		"delivered", delivered.Load(),
		"failed", failed.Load(),
		"skipped", skipped.Load())

	return len(candidates), nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeFailed
)

// dispatchOne runs the claim -> notify -> mark pipeline for one candidate.
// It never returns an error: every failure path is logged and resolved into
// a state transition (or a skip) so the rest of the batch proceeds.
func (d *Dispatcher) dispatchOne(ctx context.Context, evt *v1.Event, now time.Time) outcome {
	claimed, err := d.store.TryClaim(ctx, evt.ID, d.claimant, now)
	if err != nil {
		slog.Error("[Dispatch] Claim failed", "event_id", evt.ID, "error", err)
		return outcomeSkipped
	}
	if !claimed {
		// Lost the race or the lease is live elsewhere. Expected under
		// concurrent instances; not an error.
		slog.Debug("[Dispatch] Claim lost", "event_id", evt.ID, "claimant", d.claimant)
		return outcomeSkipped
	}

	sendErr := d.notifier.Send(ctx, notify.Reminder{
		EventID:     evt.ID,
		OwnerID:     evt.OwnerID,
		Title:       evt.Title,
		Description: evt.Description,
		EventTime:   evt.EventTime,
	})

	if sendErr == nil {
		if err := d.store.MarkDelivered(ctx, evt.ID, d.now().UTC()); err != nil {
			// The claim stands until its lease expires, after which the
			// reminder becomes claimable again. Rare duplicate delivery is
			// the accepted price for never losing one silently.
			slog.Error("[Dispatch] Delivered but could not record it",
				"event_id", evt.ID, "error", err)
			return outcomeSkipped
		}
		slog.Info("[Dispatch] Delivered",
			"event_id", evt.ID,
			"owner_id", evt.OwnerID,
			"attempts_before", evt.Delivery.Attempts)
		return outcomeDelivered
	}

	attempt := evt.Delivery.Attempts + 1
	var nextRetryAt time.Time
	if attempt < d.opts.MaxAttempts {
		nextRetryAt = now.Add(Backoff(d.opts.BackoffBase, d.opts.BackoffCap, attempt))
		slog.Warn("[Dispatch] Delivery failed, retry scheduled",
			"event_id", evt.ID,
			"attempt", attempt,
			"max_attempts", d.opts.MaxAttempts,
			"next_retry_at", nextRetryAt,
			"error", sendErr)
	} else {
		// Attempt budget exhausted; the error log is the operator's cue to
		// inspect the reminder, nothing retries it automatically.
		slog.Error("[Dispatch] Delivery permanently failed",
			"event_id", evt.ID,
			"owner_id", evt.OwnerID,
			"attempts", attempt,
			"error", sendErr)
	}

	if err := d.store.MarkFailed(ctx, evt.ID, sendErr.Error(), d.now().UTC(), nextRetryAt); err != nil {
		slog.Error("[Dispatch] Could not record failed attempt",
			"event_id", evt.ID, "error", err)
	}
	return outcomeFailed
}

// StoreUnavailable reports whether err means the backend as a whole was
// unreachable, as opposed to a per-event problem.
func StoreUnavailable(err error) bool {
	return errors.Is(err, storage.ErrUnavailable)
}
