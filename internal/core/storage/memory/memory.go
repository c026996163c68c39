package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
	"github.com/remind-lab/remindd/internal/core/storage"
)

// Store is an in-memory implementation of storage.EventStore.
// Useful for testing and development. The mutex gives the same atomicity
// for TryClaim that the real backends get from conditional writes.
type Store struct {
	mu     sync.RWMutex
	lease  time.Duration
	events map[string]*v1.Event
}

// NewStore creates an empty in-memory event store.
func NewStore(lease time.Duration) *Store {
	return &Store{
		lease:  lease,
		events: make(map[string]*v1.Event),
	}
}

func (s *Store) Insert(ctx context.Context, event *v1.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return "", storage.ErrDuplicate
	}

	// Store a copy to prevent external modification
	copy := *event
	s.events[event.ID] = &copy
	return event.ID, nil
}

func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]*v1.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*v1.Event
	for _, e := range s.events {
		if e.Delivery.Eligible(e.RemindAt, now, s.lease) {
			copy := *e
			due = append(due, &copy)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].RemindAt.Before(due[j].RemindAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) TryClaim(ctx context.Context, id, claimant string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[id]
	if !exists {
		return false, nil
	}
	if !e.Delivery.Eligible(e.RemindAt, now, s.lease) {
		return false, nil
	}

	e.Delivery = v1.Claimed(claimant, now.UTC(), e.Delivery.Attempts)
	return true, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[id]
	if !exists {
		return storage.ErrNotFound
	}

	switch e.Delivery.Status {
	case v1.StatusClaimed:
		e.Delivery = v1.Delivered(now.UTC(), e.Delivery.Attempts)
		return nil
	case v1.StatusDelivered:
		// Idempotent repeat call; the original delivery time stands.
		return nil
	default:
		return storage.ErrNotFound
	}
}

func (s *Store) MarkFailed(ctx context.Context, id string, cause string, now, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[id]
	if !exists || e.Delivery.Status != v1.StatusClaimed {
		return storage.ErrNotFound
	}

	e.Delivery = v1.Failed(e.Delivery.Attempts+1, cause, nextRetryAt)
	return nil
}

func (s *Store) ListUpcoming(ctx context.Context, ownerID string, now time.Time) ([]*v1.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var upcoming []*v1.Event
	for _, e := range s.events {
		if e.OwnerID != ownerID {
			continue
		}
		if e.EventTime.Before(now) || e.Delivery.Status == v1.StatusDelivered {
			continue
		}
		copy := *e
		upcoming = append(upcoming, &copy)
	}

	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].EventTime.Before(upcoming[j].EventTime) })
	return upcoming, nil
}

func (s *Store) StatsForPeriod(ctx context.Context, ownerID string, from, to time.Time) (*storage.PeriodStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.PeriodStats{}
	byCategory := make(map[string]int)

	for _, e := range s.events {
		if e.OwnerID != ownerID || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		stats.EventCount++
		if e.CategoryID != "" {
			byCategory[e.CategoryID]++
		}
	}

	for cat, n := range byCategory {
		if n > stats.TopCategoryCount || (n == stats.TopCategoryCount && cat < stats.TopCategoryID) {
			stats.TopCategoryID = cat
			stats.TopCategoryCount = n
		}
	}
	return stats, nil
}

// Get returns a copy of one event. Test helper; not part of the store contract.
func (s *Store) Get(id string) (*v1.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.events[id]
	if !exists {
		return nil, false
	}
	copy := *e
	return &copy, true
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
