// internal/app/store/outbox/outboxstore.go
package outboxstore

// The outbox holds activity entries whose live write failed. A background
// job drains it; the business transition that produced the entry has
// already committed and is never rolled back, so the only job of this
// store is to make sure the entry is eventually written exactly once.

import (
	"context"
	"time"

	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MaxAttempts is how many deliveries are tried before a record is left for
// operator attention (it stays in the collection and keeps being visible
// in ListStuck).
const MaxAttempts = 10

// Record is one parked activity entry awaiting delivery.
type Record struct {
	ID primitive.ObjectID `bson:"_id,omitempty"`
	// Key is a stable handle for the record across retries, used in logs
	// and as the dedup reference for operators.
	Key       string         `bson:"key"`
	Entry     activity.Entry `bson:"entry"`
	Attempts  int            `bson:"attempts"`
	LastError string         `bson:"last_error,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// Store manages the audit outbox collection.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_outbox")}
}

// EnsureIndexes creates the outbox indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetName("idx_outbox_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_outbox_created"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Park stores an entry whose live write failed. The entry keeps the ID it
// was assigned at record time, so delivery inserts are idempotent.
func (s *Store) Park(ctx context.Context, e activity.Entry, cause error) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		ID:        primitive.NewObjectID(),
		Key:       uuid.NewString(),
		Entry:     e,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if _, err := s.c.InsertOne(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListPending returns up to limit records still under the attempt budget,
// oldest first.
func (s *Store) ListPending(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(limit)
	cur, err := s.c.Find(ctx, bson.M{"attempts": bson.M{"$lt": MaxAttempts}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStuck returns records that exhausted their attempt budget.
func (s *Store) ListStuck(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(limit)
	cur, err := s.c.Find(ctx, bson.M{"attempts": bson.M{"$gte": MaxAttempts}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDelivered removes a record after its entry reached the activity
// collection.
func (s *Store) MarkDelivered(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// MarkFailed bumps the attempt counter and stores the delivery error.
func (s *Store) MarkFailed(ctx context.Context, id primitive.ObjectID, cause error) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if cause != nil {
		set["last_error"] = cause.Error()
	}
	_, err := s.c.UpdateByID(ctx, id, bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": set,
	})
	return err
}

// Count returns the number of parked records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{})
}
