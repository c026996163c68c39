package mongo

import (
	"context"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// eventDoc is the persisted shape of an event. The delivery union flattens
// into nullable fields; absent next_retry_at on a failed document is the
// "no further retry" sentinel.
type eventDoc struct {
	ID          string     `bson:"_id"`
	OwnerID     string     `bson:"owner_id"`
	Title       string     `bson:"title"`
	Description string     `bson:"description"`
	CategoryID  string     `bson:"category_id,omitempty"`
	EventTime   time.Time  `bson:"event_time"`
	RemindAt    time.Time  `bson:"remind_at"`
	CreatedAt   time.Time  `bson:"created_at"`
	Status      string     `bson:"status"`
	Claimant    string     `bson:"claimant,omitempty"`
	ClaimedAt   *time.Time `bson:"claimed_at,omitempty"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty"`
	Attempts    int        `bson:"attempts"`
	LastError   string     `bson:"last_error,omitempty"`
	NextRetryAt *time.Time `bson:"next_retry_at,omitempty"`
}

func docFromEvent(e *v1.Event) eventDoc {
	return eventDoc{
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		Title:       e.Title,
		Description: e.Description,
		CategoryID:  e.CategoryID,
		EventTime:   e.EventTime.UTC(),
		RemindAt:    e.RemindAt.UTC(),
		CreatedAt:   e.CreatedAt.UTC(),
		Status:      string(e.Delivery.Status),
		Claimant:    e.Delivery.Claimant,
		ClaimedAt:   timePtr(e.Delivery.ClaimedAt),
		DeliveredAt: timePtr(e.Delivery.DeliveredAt),
		Attempts:    e.Delivery.Attempts,
		LastError:   e.Delivery.LastError,
		NextRetryAt: timePtr(e.Delivery.NextRetryAt),
	}
}

func (d eventDoc) toEvent() *v1.Event {
	return &v1.Event{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Title:       d.Title,
		Description: d.Description,
		CategoryID:  d.CategoryID,
		EventTime:   d.EventTime,
		RemindAt:    d.RemindAt,
		CreatedAt:   d.CreatedAt,
		Delivery: v1.DeliveryState{
			Status:      v1.DeliveryStatus(d.Status),
			Claimant:    d.Claimant,
			ClaimedAt:   timeVal(d.ClaimedAt),
			DeliveredAt: timeVal(d.DeliveredAt),
			Attempts:    d.Attempts,
			LastError:   d.LastError,
			NextRetryAt: timeVal(d.NextRetryAt),
		},
	}
}

func collectEvents(ctx context.Context, cur *mongo.Cursor) ([]*v1.Event, error) {
	var events []*v1.Event
	for cur.Next(ctx) {
		var doc eventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, wrapStoreErr("decode event", err)
		}
		events = append(events, doc.toEvent())
	}
	if err := cur.Err(); err != nil {
		return nil, wrapStoreErr("iterate events", err)
	}
	return events, nil
}

// dueFilter matches claimable events: pending and due, failed with an
// elapsed retry time, or claimed with an expired lease. The same predicate
// backs claimFilter so scan and claim agree on eligibility.
func dueFilter(now time.Time, lease time.Duration) bson.M {
	return bson.M{"$or": eligibilityClauses(now, lease)}
}

// claimFilter restricts the eligibility predicate to one document.
func claimFilter(id string, now time.Time, lease time.Duration) bson.M {
	return bson.M{
		"_id": id,
		"$or": eligibilityClauses(now, lease),
	}
}

func eligibilityClauses(now time.Time, lease time.Duration) []bson.M {
	nowUTC := now.UTC()
	return []bson.M{
		{
			"status":    string(v1.StatusPending),
			"remind_at": bson.M{"$lte": nowUTC},
		},
		{
			"status":     string(v1.StatusClaimed),
			"claimed_at": bson.M{"$lte": nowUTC.Add(-lease)},
		},
		{
			"status":        string(v1.StatusFailed),
			"next_retry_at": bson.M{"$lte": nowUTC},
		},
	}
}

// topCategoryPipeline mirrors the relational GROUP BY: most frequent
// category reference in the window, ties broken by category id.
func topCategoryPipeline(ownerID string, from, to time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"owner_id":    ownerID,
			"created_at":  bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
			"category_id": bson.M{"$exists": true, "$ne": ""},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$category_id",
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: 1}},
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
