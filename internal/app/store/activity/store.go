// internal/app/store/activity/store.go
package activity

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Entry categories. Category and action are stored as an explicit pair;
// nothing downstream parses action names by prefix.
const (
	CategoryMembership = "membership"
	CategoryInvitation = "invitation"
	CategoryRole       = "role"
	CategoryWorkshop   = "workshop"
	CategoryProject    = "project"
	CategoryTeam       = "team"
)

// Membership actions.
const (
	ActionRequested = "requested"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionRevoked   = "revoked"
	ActionLeft      = "left"
	ActionJoined    = "joined"
)

// Role actions.
const (
	ActionRoleAssigned = "role_assigned"
	ActionRoleRemoved  = "role_removed"
)

// Invitation actions. Redemption is not listed: a redeemed invitation is
// recorded as the membership joining with source=invitation.
const (
	ActionInvitationIssued = "invitation_issued"
)

// Generic CRUD actions for workshop/project/team entities.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Entry is one immutable activity history record. Entries are append-only:
// nothing in the normal flow updates or deletes them; only the retention
// job prunes them by age.
type Entry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	WorkshopID primitive.ObjectID `bson:"workshop_id"`
	ActorID    primitive.ObjectID `bson:"actor_id"`
	Timestamp  time.Time          `bson:"timestamp"`

	// What happened
	Category string `bson:"category"`
	Action   string `bson:"action"`

	// What it happened to
	EntityType string             `bson:"entity_type"`
	EntityID   primitive.ObjectID `bson:"entity_id"`
	EntityName string             `bson:"entity_name,omitempty"`

	Description string            `bson:"description,omitempty"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
}

// QueryFilter defines filters for reading the activity trail. The read
// paths are eventually consistent with the write path and never affect
// core correctness.
type QueryFilter struct {
	WorkshopID *primitive.ObjectID
	ActorID    *primitive.ObjectID
	EntityID   *primitive.ObjectID
	Category   string
	Action     string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int64
	Offset     int64
}

// Store manages activity history records.
type Store struct {
	c *mongo.Collection
}

// New creates a new activity Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("activity_history")}
}

// EnsureIndexes creates necessary indexes for efficient querying.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// Activity by workshop (the primary viewer)
		{
			Keys:    bson.D{{Key: "workshop_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_activity_workshop"),
		},
		// Activity by actor
		{
			Keys:    bson.D{{Key: "actor_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_activity_actor"),
		},
		// Entity-specific activity
		{
			Keys:    bson.D{{Key: "entity_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_activity_entity"),
		},
		// Category/action aggregation
		{
			Keys: bson.D{
				{Key: "workshop_id", Value: 1},
				{Key: "category", Value: 1},
				{Key: "action", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("idx_activity_category_action"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Append records one activity entry. Inserting with a caller-fixed ID is
// idempotent under replay: a second insert of the same entry fails with a
// duplicate key, which outbox delivery treats as success.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, e)
	return err
}

// Query retrieves entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	query := buildQuery(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of entries matching the filter.
func (s *Store) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, buildQuery(filter))
}

// GetByWorkshop retrieves recent entries for a workshop.
func (s *Store) GetByWorkshop(ctx context.Context, workshopID primitive.ObjectID, limit int64) ([]Entry, error) {
	return s.Query(ctx, QueryFilter{WorkshopID: &workshopID, Limit: limit})
}

// GetByActor retrieves recent entries recorded for an actor.
func (s *Store) GetByActor(ctx context.Context, actorID primitive.ObjectID, limit int64) ([]Entry, error) {
	return s.Query(ctx, QueryFilter{ActorID: &actorID, Limit: limit})
}

// GetByEntity retrieves recent entries touching one entity.
func (s *Store) GetByEntity(ctx context.Context, entityID primitive.ObjectID, limit int64) ([]Entry, error) {
	return s.Query(ctx, QueryFilter{EntityID: &entityID, Limit: limit})
}

// ActionCount is one bucket of the trailing-window aggregation.
type ActionCount struct {
	EntityType string `bson:"entity_type"`
	Action     string `bson:"action"`
	Count      int64  `bson:"n"`
}

// CountByAction aggregates entries for a workshop into per-(entityType,
// action) counts over the trailing window.
func (s *Store) CountByAction(ctx context.Context, workshopID primitive.ObjectID, window time.Duration) ([]ActionCount, error) {
	since := time.Now().UTC().Add(-window)
	cur, err := s.c.Aggregate(ctx, []bson.M{
		{"$match": bson.M{
			"workshop_id": workshopID,
			"timestamp":   bson.M{"$gte": since},
		}},
		{"$group": bson.M{
			"_id": bson.M{"entity_type": "$entity_type", "action": "$action"},
			"n":   bson.M{"$sum": 1},
		}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []ActionCount
	for cur.Next(ctx) {
		var row struct {
			ID struct {
				EntityType string `bson:"entity_type"`
				Action     string `bson:"action"`
			} `bson:"_id"`
			N int64 `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out = append(out, ActionCount{
			EntityType: row.ID.EntityType,
			Action:     row.ID.Action,
			Count:      row.N,
		})
	}
	return out, cur.Err()
}

// DeleteOlderThan prunes entries older than the cutoff. Retention
// housekeeping only; never called from business flows.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func buildQuery(filter QueryFilter) bson.M {
	query := bson.M{}

	if filter.WorkshopID != nil {
		query["workshop_id"] = *filter.WorkshopID
	}
	if filter.ActorID != nil {
		query["actor_id"] = *filter.ActorID
	}
	if filter.EntityID != nil {
		query["entity_id"] = *filter.EntityID
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Action != "" {
		query["action"] = filter.Action
	}

	if filter.StartTime != nil || filter.EndTime != nil {
		timeQuery := bson.M{}
		if filter.StartTime != nil {
			timeQuery["$gte"] = *filter.StartTime
		}
		if filter.EndTime != nil {
			timeQuery["$lte"] = *filter.EndTime
		}
		query["timestamp"] = timeQuery
	}

	return query
}
