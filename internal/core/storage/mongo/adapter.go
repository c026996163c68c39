package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/remind-lab/remindd/internal/api/v1"
	"github.com/remind-lab/remindd/internal/core/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	connectTimeout    = 5 * time.Second
	disconnectTimeout = 5 * time.Second
	eventsCollection  = "events"
)

// Adapter implements storage.EventStore for MongoDB.
//
// Per-document updates are atomic in MongoDB, so TryClaim is a single
// UpdateOne whose filter carries the full eligibility predicate; the
// modified count decides the claim race.
type Adapter struct {
	client *mongo.Client
	events *mongo.Collection
	lease  time.Duration
}

// NewAdapter connects to MongoDB and prepares the events collection.
//
// Example URI: "mongodb://localhost:27017"
func NewAdapter(uri, database string, lease time.Duration) (*Adapter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	a := &Adapter{
		client: client,
		events: client.Database(database).Collection(eventsCollection),
		lease:  lease,
	}

	if err := a.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	slog.Info("[Mongo] Adapter initialized", "database", database, "claim_lease", lease)
	return a, nil
}

func (a *Adapter) ensureIndexes(ctx context.Context) error {
	_, err := a.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "remind_at", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "event_time", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Insert persists a pending event.
// Returns storage.ErrDuplicate if the identifier already exists.
func (a *Adapter) Insert(ctx context.Context, event *v1.Event) (string, error) {
	_, err := a.events.InsertOne(ctx, docFromEvent(event))
	if mongo.IsDuplicateKeyError(err) {
		return "", storage.ErrDuplicate
	}
	if err != nil {
		return "", wrapStoreErr("insert event", err)
	}

	slog.Debug("[Mongo] Inserted event",
		"event_id", event.ID,
		"owner_id", event.OwnerID,
		"remind_at", event.RemindAt)
	return event.ID, nil
}

// FindDue fetches up to limit claimable events ordered by remind_at.
func (a *Adapter) FindDue(ctx context.Context, now time.Time, limit int) ([]*v1.Event, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "remind_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := a.events.Find(ctx, dueFilter(now, a.lease), opts)
	if err != nil {
		return nil, wrapStoreErr("query due events", err)
	}
	defer cur.Close(ctx)

	return collectEvents(ctx, cur)
}

// TryClaim performs the atomic conditional claim: eligibility predicate in
// the filter, state transition in the update, one document operation.
func (a *Adapter) TryClaim(ctx context.Context, id, claimant string, now time.Time) (bool, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     string(v1.StatusClaimed),
			"claimant":   claimant,
			"claimed_at": now.UTC(),
		},
	}

	res, err := a.events.UpdateOne(ctx, claimFilter(id, now, a.lease), update)
	if err != nil {
		return false, wrapStoreErr("claim event", err)
	}
	return res.ModifiedCount == 1, nil
}

// MarkDelivered transitions Claimed to Delivered. Calling it again on a
// delivered event succeeds without touching the recorded delivery time.
func (a *Adapter) MarkDelivered(ctx context.Context, id string, now time.Time) error {
	update := bson.M{
		"$set":   bson.M{"status": string(v1.StatusDelivered), "delivered_at": now.UTC()},
		"$unset": bson.M{"claimant": "", "claimed_at": ""},
	}

	res, err := a.events.UpdateOne(ctx, bson.M{"_id": id, "status": string(v1.StatusClaimed)}, update)
	if err != nil {
		return wrapStoreErr("mark delivered", err)
	}
	if res.ModifiedCount == 1 {
		return nil
	}

	// Idempotence: a repeat call finds the document already delivered.
	n, err := a.events.CountDocuments(ctx, bson.M{"_id": id, "status": string(v1.StatusDelivered)})
	if err != nil {
		return wrapStoreErr("verify delivered", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkFailed records one more failed attempt. A zero nextRetryAt removes the
// retry field entirely, which is the "no further retry" sentinel.
func (a *Adapter) MarkFailed(ctx context.Context, id string, cause string, now, nextRetryAt time.Time) error {
	set := bson.M{
		"status":     string(v1.StatusFailed),
		"last_error": cause,
	}
	unset := bson.M{"claimant": "", "claimed_at": ""}
	if nextRetryAt.IsZero() {
		unset["next_retry_at"] = ""
	} else {
		set["next_retry_at"] = nextRetryAt.UTC()
	}

	update := bson.M{
		"$set":   set,
		"$unset": unset,
		"$inc":   bson.M{"attempts": 1},
	}

	res, err := a.events.UpdateOne(ctx, bson.M{"_id": id, "status": string(v1.StatusClaimed)}, update)
	if err != nil {
		return wrapStoreErr("mark failed", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUpcoming returns the owner's undelivered events from now on.
func (a *Adapter) ListUpcoming(ctx context.Context, ownerID string, now time.Time) ([]*v1.Event, error) {
	filter := bson.M{
		"owner_id":   ownerID,
		"event_time": bson.M{"$gte": now.UTC()},
		"status":     bson.M{"$ne": string(v1.StatusDelivered)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "event_time", Value: 1}})

	cur, err := a.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapStoreErr("query upcoming events", err)
	}
	defer cur.Close(ctx)

	return collectEvents(ctx, cur)
}

// StatsForPeriod aggregates the owner's events created in [from, to).
func (a *Adapter) StatsForPeriod(ctx context.Context, ownerID string, from, to time.Time) (*storage.PeriodStats, error) {
	window := bson.M{
		"owner_id":   ownerID,
		"created_at": bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
	}

	count, err := a.events.CountDocuments(ctx, window)
	if err != nil {
		return nil, wrapStoreErr("count events for period", err)
	}

	stats := &storage.PeriodStats{EventCount: int(count)}

	cur, err := a.events.Aggregate(ctx, topCategoryPipeline(ownerID, from, to))
	if err != nil {
		return nil, wrapStoreErr("top category for period", err)
	}
	defer cur.Close(ctx)

	var top []struct {
		CategoryID string `bson:"_id"`
		Count      int    `bson:"count"`
	}
	if err := cur.All(ctx, &top); err != nil {
		return nil, wrapStoreErr("decode top category", err)
	}
	if len(top) > 0 {
		stats.TopCategoryID = top[0].CategoryID
		stats.TopCategoryCount = top[0].Count
	}

	return stats, nil
}

// Ping reports backend reachability.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client. Should be called during graceful shutdown.
func (a *Adapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect mongodb: %w", err)
	}

	slog.Info("[Mongo] Adapter closed gracefully")
	return nil
}

// wrapStoreErr maps connectivity failures onto storage.ErrUnavailable so the
// dispatch loop can tell a backend outage from a per-event problem.
func wrapStoreErr(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
