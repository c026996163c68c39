package v1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the tag of the delivery state machine.
// Exactly one status holds at any time; transitions are performed only by
// the storage layer (TryClaim / MarkDelivered / MarkFailed).
type DeliveryStatus string

const (
	// StatusPending means the reminder has not been picked up yet.
	StatusPending DeliveryStatus = "pending"

	// StatusClaimed means one dispatcher holds a time-bounded exclusive
	// lease on delivering this reminder.
	StatusClaimed DeliveryStatus = "claimed"

	// StatusDelivered is terminal: the notification went out.
	StatusDelivered DeliveryStatus = "delivered"

	// StatusFailed means the last delivery attempt failed. The reminder is
	// retried at NextRetryAt unless NextRetryAt is zero, in which case the
	// attempt budget is exhausted and the state is terminal.
	StatusFailed DeliveryStatus = "failed"
)

// DeliveryState models the per-reminder delivery lifecycle as a tagged
// union: Status selects the variant, and only that variant's fields are
// meaningful. Use the constructors below rather than building one by hand
// so illegal combinations never occur.
type DeliveryState struct {
	Status DeliveryStatus `json:"status"`

	// Claimed variant.
	Claimant  string    `json:"claimant,omitempty"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`

	// Delivered variant.
	DeliveredAt time.Time `json:"delivered_at,omitempty"`

	// Failed variant. NextRetryAt zero means "no further retry".
	Attempts    int       `json:"attempts,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// Pending returns the initial delivery state.
func Pending() DeliveryState {
	return DeliveryState{Status: StatusPending}
}

// Claimed returns a claimed state held by claimant since now.
// Attempts carries over so a retry after failure keeps its history.
func Claimed(claimant string, now time.Time, attempts int) DeliveryState {
	return DeliveryState{
		Status:    StatusClaimed,
		Claimant:  claimant,
		ClaimedAt: now,
		Attempts:  attempts,
	}
}

// Delivered returns the terminal success state.
func Delivered(now time.Time, attempts int) DeliveryState {
	return DeliveryState{
		Status:      StatusDelivered,
		DeliveredAt: now,
		Attempts:    attempts,
	}
}

// Failed returns the failed state after one more unsuccessful attempt.
// A zero nextRetryAt marks the failure as terminal.
func Failed(attempts int, lastError string, nextRetryAt time.Time) DeliveryState {
	return DeliveryState{
		Status:      StatusFailed,
		Attempts:    attempts,
		LastError:   lastError,
		NextRetryAt: nextRetryAt,
	}
}

// Terminal reports whether no further delivery attempt will ever happen.
func (s DeliveryState) Terminal() bool {
	switch s.Status {
	case StatusDelivered:
		return true
	case StatusFailed:
		return s.NextRetryAt.IsZero()
	case StatusPending, StatusClaimed:
		return false
	}
	return false
}

// Eligible reports whether the reminder may be claimed at instant now,
// given the configured claim lease duration.
func (s DeliveryState) Eligible(remindAt, now time.Time, lease time.Duration) bool {
	switch s.Status {
	case StatusPending:
		return !remindAt.After(now)
	case StatusClaimed:
		// Lease expired: the previous claimant is presumed dead and the
		// delivery outcome unknown, so the reminder becomes claimable again.
		return !s.ClaimedAt.After(now.Add(-lease))
	case StatusFailed:
		return !s.NextRetryAt.IsZero() && !s.NextRetryAt.After(now)
	case StatusDelivered:
		return false
	}
	return false
}

// Event is a user-registered occurrence with an attached reminder.
// The registration flow creates it; only the dispatch engine mutates it
// (and only the Delivery field); nothing here ever deletes it.
type Event struct {
	// ID is an opaque unique key, stable across both storage backends.
	ID string `json:"id"`

	// OwnerID identifies the user the reminder belongs to. Opaque to the
	// engine; the notification transport knows how to reach them.
	OwnerID string `json:"owner_id"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// CategoryID is a weak reference to an externally owned category.
	// The engine carries it around and aggregates over it, never resolves it.
	CategoryID string `json:"category_id,omitempty"`

	// EventTime is the absolute time the event concerns.
	EventTime time.Time `json:"event_time"`

	// RemindAt is EventTime minus the configured lead interval, fixed at
	// creation. RemindAt never exceeds EventTime.
	RemindAt time.Time `json:"remind_at"`

	CreatedAt time.Time `json:"created_at"`

	Delivery DeliveryState `json:"delivery"`
}

// NewEvent builds a pending event, generating its identifier and computing
// RemindAt from the lead interval. A negative lead is treated as zero so the
// RemindAt <= EventTime invariant always holds.
func NewEvent(ownerID, title, description, categoryID string, eventTime time.Time, lead time.Duration, now time.Time) *Event {
	if lead < 0 {
		lead = 0
	}
	return &Event{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		CategoryID:  categoryID,
		EventTime:   eventTime.UTC(),
		RemindAt:    eventTime.UTC().Add(-lead),
		CreatedAt:   now.UTC(),
		Delivery:    Pending(),
	}
}

// Validate ensures the event carries everything the engine relies on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}

	if e.Title == "" {
		return fmt.Errorf("title is required")
	}

	if e.EventTime.IsZero() {
		return fmt.Errorf("event_time is required")
	}

	if e.RemindAt.After(e.EventTime) {
		return fmt.Errorf("remind_at must not be after event_time")
	}

	return nil
}
