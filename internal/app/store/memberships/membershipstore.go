// internal/app/store/memberships/membershipstore.go
package membershipstore

// Concurrency contract: every state transition is a single guarded
// findOneAndUpdate on the one document keyed by (user_id, workshop_id).
// The guard includes the required from-state, so two concurrent
// transitions on the same membership serialize at the storage layer:
// the first applies, the second misses the guard and gets
// ErrStateChanged. Callers must never read-then-write membership state.

import (
	"context"
	"errors"
	"time"

	"github.com/atelierhq/atelier/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no membership document exists for the key.
	ErrNotFound = errors.New("membership not found")
	// ErrStateChanged is returned when the document exists but is not in a
	// state the transition's guard accepts.
	ErrStateChanged = errors.New("membership is not in the required state")
	// ErrAlreadyPending is returned by UpsertPending when a pending
	// membership already exists for the pair.
	ErrAlreadyPending = errors.New("a join request is already pending")
	// ErrAlreadyActive is returned by UpsertPending when the user is
	// already an active member.
	ErrAlreadyActive = errors.New("user is already an active member")
	// ErrInsertRace is returned when a concurrent creation won an upsert
	// race; the operation is safe to retry.
	ErrInsertRace = errors.New("membership insert lost a concurrent race")
)

type Store struct {
	c     *mongo.Collection
	users *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		c:     db.Collection("memberships"),
		users: db.Collection("users"),
	}
}

// Get returns the membership for (userID, workshopID).
func (s *Store) Get(ctx context.Context, userID, workshopID primitive.ObjectID) (models.Membership, error) {
	var m models.Membership
	err := s.c.FindOne(ctx, bson.M{"user_id": userID, "workshop_id": workshopID}).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Membership{}, ErrNotFound
		}
		return models.Membership{}, err
	}
	return m, nil
}

// GetByID returns the membership with the given document id.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Membership, error) {
	var m models.Membership
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Membership{}, ErrNotFound
		}
		return models.Membership{}, err
	}
	return m, nil
}

// WithUser pairs a membership with its resolved user record. Storage keeps
// foreign keys only; callers that need user details ask for this variant
// explicitly.
type WithUser struct {
	Membership models.Membership
	User       models.User
}

// GetWithUser returns the membership together with its user document.
func (s *Store) GetWithUser(ctx context.Context, userID, workshopID primitive.ObjectID) (WithUser, error) {
	m, err := s.Get(ctx, userID, workshopID)
	if err != nil {
		return WithUser{}, err
	}
	var u models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return WithUser{}, ErrNotFound
		}
		return WithUser{}, err
	}
	return WithUser{Membership: m, User: u}, nil
}

// UpsertPending creates a pending membership, or resets a removed one back
// to pending in place. Fails when a pending or active membership already
// exists. actorID is recorded in the history entry (the requesting user for
// join requests, the inviter for invitation-created records).
func (s *Store) UpsertPending(ctx context.Context, userID, workshopID primitive.ObjectID, source models.MembershipSource, actorID primitive.ObjectID) (models.Membership, error) {
	now := time.Now().UTC()

	// Reset path: one guarded update on an existing removed document.
	var m models.Membership
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "workshop_id": workshopID, "state": models.MembershipRemoved},
		bson.M{
			"$set": bson.M{
				"state":      models.MembershipPending,
				"source":     source,
				"role_ids":   []primitive.ObjectID{},
				"updated_at": now,
			},
			"$unset": bson.M{"joined_at": ""},
			"$push": bson.M{"history": models.StateTransition{
				From:    models.MembershipRemoved,
				To:      models.MembershipPending,
				ActorID: actorID,
				At:      now,
			}},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return m, nil
	}
	if err != mongo.ErrNoDocuments {
		return models.Membership{}, err
	}

	// Create path: no removed document, so insert a fresh pending one.
	m = models.Membership{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		UserID:     userID,
		State:      models.MembershipPending,
		Source:     source,
		RoleIDs:    []primitive.ObjectID{},
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Membership{}, s.classifyExisting(ctx, userID, workshopID)
		}
		return models.Membership{}, err
	}
	return m, nil
}

// classifyExisting turns an upsert duplicate into the caller-facing error
// for the state the existing document is in.
func (s *Store) classifyExisting(ctx context.Context, userID, workshopID primitive.ObjectID) error {
	existing, err := s.Get(ctx, userID, workshopID)
	if err != nil {
		if err == ErrNotFound {
			// Inserted and removed between our attempts; retryable.
			return ErrInsertRace
		}
		return err
	}
	switch existing.State {
	case models.MembershipActive:
		return ErrAlreadyActive
	case models.MembershipPending:
		return ErrAlreadyPending
	default:
		// A removed document appeared after our reset attempt missed it:
		// a concurrent transition interleaved. Retryable.
		return ErrInsertRace
	}
}

// Activate transitions a pending membership to active and stamps joined_at.
// The membership is addressed by document id (approval flows operate on the
// pending record, not the pair).
func (s *Store) Activate(ctx context.Context, membershipID, actorID primitive.ObjectID) (models.Membership, error) {
	now := time.Now().UTC()
	var m models.Membership
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": membershipID, "state": models.MembershipPending},
		bson.M{
			"$set": bson.M{
				"state":      models.MembershipActive,
				"joined_at":  now,
				"updated_at": now,
			},
			"$push": bson.M{"history": models.StateTransition{
				From:    models.MembershipPending,
				To:      models.MembershipActive,
				ActorID: actorID,
				At:      now,
			}},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Membership{}, s.missReason(ctx, bson.M{"_id": membershipID})
		}
		return models.Membership{}, err
	}
	return m, nil
}

// Remove transitions a membership out of one of fromStates into removed
// and clears its roles.
func (s *Store) Remove(ctx context.Context, userID, workshopID, actorID primitive.ObjectID, fromStates ...models.MembershipState) (models.Membership, error) {
	return s.remove(ctx, bson.M{"user_id": userID, "workshop_id": workshopID}, actorID, fromStates)
}

// RemoveByID is Remove addressed by document id (reject flows).
func (s *Store) RemoveByID(ctx context.Context, membershipID, actorID primitive.ObjectID, fromStates ...models.MembershipState) (models.Membership, error) {
	return s.remove(ctx, bson.M{"_id": membershipID}, actorID, fromStates)
}

func (s *Store) remove(ctx context.Context, key bson.M, actorID primitive.ObjectID, fromStates []models.MembershipState) (models.Membership, error) {
	now := time.Now().UTC()

	// The history entry needs the from-state, which with a multi-state
	// guard is only knowable from the matched document; record it when the
	// guard is unambiguous.
	from := models.MembershipState("")
	if len(fromStates) == 1 {
		from = fromStates[0]
	}

	filter := bson.M{"state": bson.M{"$in": fromStates}}
	for k, v := range key {
		filter[k] = v
	}

	var m models.Membership
	err := s.c.FindOneAndUpdate(ctx,
		filter,
		bson.M{
			"$set": bson.M{
				"state":      models.MembershipRemoved,
				"role_ids":   []primitive.ObjectID{},
				"updated_at": now,
			},
			"$push": bson.M{"history": models.StateTransition{
				From:    from,
				To:      models.MembershipRemoved,
				ActorID: actorID,
				At:      now,
			}},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Membership{}, s.missReason(ctx, key)
		}
		return models.Membership{}, err
	}
	return m, nil
}

// AddRole grants roleID on an active membership. Idempotent: adding a role
// the membership already holds succeeds without duplicating it.
func (s *Store) AddRole(ctx context.Context, userID, workshopID, roleID primitive.ObjectID) (models.Membership, error) {
	return s.updateRoles(ctx, userID, workshopID, "$addToSet", roleID)
}

// RemoveRole revokes roleID from an active membership. Idempotent.
func (s *Store) RemoveRole(ctx context.Context, userID, workshopID, roleID primitive.ObjectID) (models.Membership, error) {
	return s.updateRoles(ctx, userID, workshopID, "$pull", roleID)
}

func (s *Store) updateRoles(ctx context.Context, userID, workshopID primitive.ObjectID, op string, roleID primitive.ObjectID) (models.Membership, error) {
	var m models.Membership
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID, "workshop_id": workshopID, "state": models.MembershipActive},
		bson.M{
			op:     bson.M{"role_ids": roleID},
			"$set": bson.M{"updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Membership{}, s.missReason(ctx, bson.M{"user_id": userID, "workshop_id": workshopID})
		}
		return models.Membership{}, err
	}
	return m, nil
}

// ActivateFromInvite moves the membership for (userID, workshopID) directly
// to active with source=invited, creating the document if absent and
// resetting it if pending or removed. Invitation redemption is itself the
// approval, so no pending stop is made. If the user is already an active
// member the invitation's role is still attached and the call succeeds.
func (s *Store) ActivateFromInvite(ctx context.Context, userID, workshopID primitive.ObjectID, roleID *primitive.ObjectID, actorID primitive.ObjectID) (models.Membership, error) {
	now := time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"state":      models.MembershipActive,
			"source":     models.SourceInvited,
			"joined_at":  now,
			"updated_at": now,
		},
		"$push": bson.M{"history": models.StateTransition{
			To:      models.MembershipActive,
			ActorID: actorID,
			At:      now,
		}},
		"$inc": bson.M{"version": 1},
	}
	if roleID != nil {
		update["$addToSet"] = bson.M{"role_ids": *roleID}
	}

	var m models.Membership
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{
			"user_id":     userID,
			"workshop_id": workshopID,
			"state":       bson.M{"$in": []models.MembershipState{models.MembershipPending, models.MembershipRemoved}},
		},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return m, nil
	}
	if err != mongo.ErrNoDocuments {
		return models.Membership{}, err
	}

	// No pending/removed document. Either the user has no record yet, or is
	// already active; handle both without a read-then-write on state.
	m = models.Membership{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		UserID:     userID,
		State:      models.MembershipActive,
		Source:     models.SourceInvited,
		JoinedAt:   &now,
		History: []models.StateTransition{{
			To:      models.MembershipActive,
			ActorID: actorID,
			At:      now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if roleID != nil {
		m.RoleIDs = []primitive.ObjectID{*roleID}
	}
	_, err = s.c.InsertOne(ctx, m)
	if err == nil {
		return m, nil
	}
	if !wafflemongo.IsDup(err) {
		return models.Membership{}, err
	}

	// Already active: attach the role (idempotent) and return the document.
	if roleID != nil {
		return s.AddRole(ctx, userID, workshopID, *roleID)
	}
	existing, err := s.Get(ctx, userID, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if existing.State != models.MembershipActive {
		// A concurrent transition interleaved between our two attempts.
		return models.Membership{}, ErrInsertRace
	}
	return existing, nil
}

// missReason distinguishes "no document" from "wrong state" after a guarded
// update matched nothing.
func (s *Store) missReason(ctx context.Context, key bson.M) error {
	err := s.c.FindOne(ctx, key).Err()
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStateChanged
}

// ListActiveByWorkshop returns all active memberships for a workshop.
// Hot path; served by the (workshop_id, state) index.
func (s *Store) ListActiveByWorkshop(ctx context.Context, workshopID primitive.ObjectID) ([]models.Membership, error) {
	return s.listByWorkshopState(ctx, workshopID, models.MembershipActive)
}

// ListPendingByWorkshop returns all pending memberships for a workshop.
func (s *Store) ListPendingByWorkshop(ctx context.Context, workshopID primitive.ObjectID) ([]models.Membership, error) {
	return s.listByWorkshopState(ctx, workshopID, models.MembershipPending)
}

func (s *Store) listByWorkshopState(ctx context.Context, workshopID primitive.ObjectID, state models.MembershipState) ([]models.Membership, error) {
	cur, err := s.c.Find(ctx, bson.M{"workshop_id": workshopID, "state": state})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Membership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByUser returns all memberships for a user across workshops.
func (s *Store) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Membership, error) {
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Membership
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountActiveByWorkshop returns the number of active members.
func (s *Store) CountActiveByWorkshop(ctx context.Context, workshopID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"workshop_id": workshopID, "state": models.MembershipActive})
}

// PullRoleFromAll removes roleID from every membership in the workshop.
// Used when a role is deleted.
func (s *Store) PullRoleFromAll(ctx context.Context, workshopID, roleID primitive.ObjectID) (int64, error) {
	res, err := s.c.UpdateMany(ctx,
		bson.M{"workshop_id": workshopID, "role_ids": roleID},
		bson.M{
			"$pull": bson.M{"role_ids": roleID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
			"$inc":  bson.M{"version": 1},
		})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteByWorkshop removes all membership documents for a workshop.
// Returns the number of documents deleted.
func (s *Store) DeleteByWorkshop(ctx context.Context, workshopID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"workshop_id": workshopID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
