package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
)

// ErrDuplicate is returned when an event with the same identifier already exists.
var ErrDuplicate = errors.New("event already exists")

// ErrNotFound is returned when no event carries the given identifier.
var ErrNotFound = errors.New("event not found")

// ErrUnavailable wraps transient backend outages. A dispatch cycle that hits
// it aborts early and retries wholesale on the next tick; no event state is
// touched.
var ErrUnavailable = errors.New("store unavailable")

// PeriodStats is the read-only aggregate over one owner's closed time window.
type PeriodStats struct {
	EventCount int `json:"event_count"`

	// TopCategoryID is the most frequent category reference in the window,
	// empty when the window holds no categorized events. Opaque: resolving
	// it to a name is the reporting flow's business.
	TopCategoryID    string `json:"top_category_id,omitempty"`
	TopCategoryCount int    `json:"top_category_count"`
}

// EventStore is the one contract both backends satisfy. The engine depends
// only on this interface and never on backend query semantics.
//
// TryClaim is the linchpin of at-most-once delivery: each implementation
// must perform it as a single atomic conditional write at the storage
// layer, never as a read-then-write from the caller.
type EventStore interface {
	// Insert persists a new pending event and returns its identifier.
	// Returns ErrDuplicate on identifier collision.
	Insert(ctx context.Context, event *v1.Event) (string, error)

	// FindDue returns up to limit events claimable at instant now
	// (pending and due, failed with an elapsed retry time, or claimed with
	// an expired lease), ordered by remind_at ascending.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*v1.Event, error)

	// TryClaim atomically transitions the event to Claimed(claimant, now)
	// if it is still eligible. Returns false, without error, when another
	// claimant won the race or the event is no longer claimable.
	TryClaim(ctx context.Context, id, claimant string, now time.Time) (bool, error)

	// MarkDelivered transitions Claimed to Delivered. Idempotent: calling
	// it on an already delivered event is a no-op success.
	MarkDelivered(ctx context.Context, id string, now time.Time) error

	// MarkFailed transitions Claimed to Failed, incrementing the attempt
	// count. A zero nextRetryAt records the failure as terminal, removing
	// the event from future FindDue results.
	MarkFailed(ctx context.Context, id string, cause string, now, nextRetryAt time.Time) error

	// ListUpcoming returns the owner's undelivered events with
	// event_time >= now, ordered by event_time ascending.
	ListUpcoming(ctx context.Context, ownerID string, now time.Time) ([]*v1.Event, error)

	// StatsForPeriod aggregates the owner's events created in [from, to).
	StatsForPeriod(ctx context.Context, ownerID string, from, to time.Time) (*PeriodStats, error)

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error

	Close() error
}
