// internal/app/store/roles/rolestore.go
package rolestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atelierhq/atelier/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound      = errors.New("role not found")
	ErrDuplicateName = errors.New("a role with this name already exists in the workshop")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("roles")}
}

// Create inserts a new workshop-scoped role after validating its grants
// against the closed enumerations.
func (s *Store) Create(ctx context.Context, role models.Role) (models.Role, error) {
	if err := validateGrants(role.Grants); err != nil {
		return models.Role{}, err
	}
	now := time.Now().UTC()
	role.ID = primitive.NewObjectID()
	role.NameCI = text.Fold(role.Name)
	role.CreatedAt = now
	role.UpdatedAt = now
	_, err := s.c.InsertOne(ctx, role)
	if err != nil {
		if wafflemongo.IsDup(err) {
			return models.Role{}, ErrDuplicateName
		}
		return models.Role{}, err
	}
	return role, nil
}

// GetByID retrieves a role.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Role, error) {
	var role models.Role
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&role)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Role{}, ErrNotFound
		}
		return models.Role{}, err
	}
	return role, nil
}

// GetByIDs returns the roles for the given ids. Missing ids are silently
// skipped: a membership may reference a role deleted moments ago, and the
// evaluator treats that as the role granting nothing.
func (s *Store) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var roles []models.Role
	if err := cur.All(ctx, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// ListByWorkshop returns all roles belonging to a workshop.
func (s *Store) ListByWorkshop(ctx context.Context, workshopID primitive.ObjectID) ([]models.Role, error) {
	cur, err := s.c.Find(ctx, bson.M{"workshop_id": workshopID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var roles []models.Role
	if err := cur.All(ctx, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// Update replaces a role's name and grants.
func (s *Store) Update(ctx context.Context, id primitive.ObjectID, name string, grants []models.Grant) error {
	if err := validateGrants(grants); err != nil {
		return err
	}
	set := bson.M{
		"grants":     grants,
		"updated_at": time.Now().UTC(),
	}
	if name != "" {
		set["name"] = name
		set["name_ci"] = text.Fold(name)
	}
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

// Delete removes a role by ID.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByWorkshop removes all roles for a workshop (cascade on workshop
// deletion). Returns the number of documents deleted.
func (s *Store) DeleteByWorkshop(ctx context.Context, workshopID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"workshop_id": workshopID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func validateGrants(grants []models.Grant) error {
	for _, g := range grants {
		if !models.ValidAction(g.Action) {
			return fmt.Errorf("unknown action %q", g.Action)
		}
		if !models.ValidResource(g.Resource) {
			return fmt.Errorf("unknown resource type %q", g.Resource)
		}
	}
	return nil
}
