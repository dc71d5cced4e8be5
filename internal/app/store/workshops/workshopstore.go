// internal/app/store/workshops/workshopstore.go
package workshopstore

import (
	"context"
	"errors"
	"time"

	"github.com/atelierhq/atelier/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

var (
	ErrDuplicateName  = errors.New("a workshop with this name already exists")
	ErrNotFound       = errors.New("workshop not found")
	ErrOwnerIsManager = errors.New("the owner cannot be added as a manager")
)

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("workshops")}
}

// Create inserts a new workshop. The creator becomes the owner; visibility
// defaults to private when unset.
func (s *Store) Create(ctx context.Context, ws models.Workshop) (models.Workshop, error) {
	now := time.Now().UTC()
	ws.ID = primitive.NewObjectID()
	ws.NameCI = text.Fold(ws.Name)
	if ws.Visibility == "" {
		ws.Visibility = models.VisibilityPrivate
	}
	// Owner status is implicit; never store the owner in the manager set.
	ws.ManagerIDs = withoutID(ws.ManagerIDs, ws.OwnerID)
	ws.CreatedAt = now
	ws.UpdatedAt = now
	_, err := s.c.InsertOne(ctx, ws)
	if err != nil {
		if wafflemongo.IsDup(err) {
			return models.Workshop{}, ErrDuplicateName
		}
		return models.Workshop{}, err
	}
	return ws, nil
}

// GetByID retrieves a workshop by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Workshop, error) {
	var ws models.Workshop
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&ws)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Workshop{}, ErrNotFound
		}
		return models.Workshop{}, err
	}
	return ws, nil
}

// Update modifies a workshop's mutable fields (name, description,
// visibility, required skills). Owner and manager changes go through
// SetOwner/AddManager/RemoveManager so the owner invariant holds.
func (s *Store) Update(ctx context.Context, id primitive.ObjectID, ws models.Workshop) error {
	set := bson.M{
		"updated_at": time.Now().UTC(),
	}
	if ws.Name != "" {
		set["name"] = ws.Name
		set["name_ci"] = text.Fold(ws.Name)
	}
	if ws.Visibility != "" {
		set["visibility"] = ws.Visibility
	}
	set["description"] = ws.Description
	set["required_skills"] = ws.RequiredSkills

	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateName
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOwner transfers ownership. The new owner is pulled from the manager
// set in the same update so the invariant cannot be observed violated.
func (s *Store) SetOwner(ctx context.Context, id, newOwnerID primitive.ObjectID) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{
		"$set":  bson.M{"owner_id": newOwnerID, "updated_at": time.Now().UTC()},
		"$pull": bson.M{"manager_ids": newOwnerID},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddManager adds userID to the manager set. Adding the owner is refused:
// owner status supersedes manager status and is implicit.
func (s *Store) AddManager(ctx context.Context, id, userID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "owner_id": bson.M{"$ne": userID}},
		bson.M{
			"$addToSet": bson.M{"manager_ids": userID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either the workshop is missing or userID is the owner.
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrOwnerIsManager
	}
	return nil
}

// RemoveManager removes userID from the manager set. Idempotent.
func (s *Store) RemoveManager(ctx context.Context, id, userID primitive.ObjectID) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{
		"$pull": bson.M{"manager_ids": userID},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a workshop by ID. Cascade deletion of roles, memberships,
// invitations, projects, and teams is orchestrated by the caller.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// ListByOwner returns all workshops owned by userID.
func (s *Store) ListByOwner(ctx context.Context, userID primitive.ObjectID) ([]models.Workshop, error) {
	return s.find(ctx, bson.M{"owner_id": userID})
}

// ListPublic returns public workshops, most recently created first.
func (s *Store) ListPublic(ctx context.Context, limit int64) ([]models.Workshop, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cur, err := s.c.Find(ctx, bson.M{"visibility": models.VisibilityPublic}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Workshop
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Workshop, error) {
	cur, err := s.c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Workshop
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func withoutID(ids []primitive.ObjectID, drop primitive.ObjectID) []primitive.ObjectID {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
