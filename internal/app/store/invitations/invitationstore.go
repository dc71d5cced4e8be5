// internal/app/store/invitations/invitationstore.go
package invitationstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/atelierhq/atelier/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// TokenLength is the length of an invitation token in bytes
	// (32 bytes = 64 hex chars).
	TokenLength = 32
	// DefaultExpiry is how long an invitation is redeemable.
	DefaultExpiry = 7 * 24 * time.Hour
)

var (
	// ErrInvalid is returned for an unknown or expired token. The two
	// cases are deliberately indistinguishable so callers cannot probe
	// which tokens exist.
	ErrInvalid = errors.New("invitation invalid or expired")
	// ErrAlreadyUsed is returned when the single-use flip lost to a
	// concurrent redemption: the token is burned.
	ErrAlreadyUsed = errors.New("invitation has already been used")
)

// Store manages single-use invitation tokens.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

// New creates a Store with the given expiry for newly issued invitations.
// If expiry is 0 or negative, DefaultExpiry (7 days) is used.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		c:      db.Collection("invitations"),
		expiry: expiry,
	}
}

// Expiry returns the configured invitation lifetime.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Create issues a new invitation with a fresh random token.
func (s *Store) Create(ctx context.Context, email string, workshopID primitive.ObjectID, roleID *primitive.ObjectID, invitedByID primitive.ObjectID) (models.Invitation, error) {
	now := time.Now().UTC()
	inv := models.Invitation{
		ID:          primitive.NewObjectID(),
		Token:       generateToken(),
		Email:       email,
		WorkshopID:  workshopID,
		RoleID:      roleID,
		InvitedByID: invitedByID,
		ExpiresAt:   now.Add(s.expiry),
		Used:        false,
		CreatedAt:   now,
	}
	if _, err := s.c.InsertOne(ctx, inv); err != nil {
		return models.Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}
	return inv, nil
}

// GetValidByToken returns the invitation for token if it is unused and
// unexpired. Read-only; no side effects.
func (s *Store) GetValidByToken(ctx context.Context, token string) (models.Invitation, error) {
	var inv models.Invitation
	err := s.c.FindOne(ctx, bson.M{
		"token":      token,
		"used":       false,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&inv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Invitation{}, ErrInvalid
		}
		return models.Invitation{}, err
	}
	return inv, nil
}

// MarkUsed atomically flips the single-use flag. This is the enforcement
// point for "redeemable at most once": the guard on used=false means two
// concurrent redemptions serialize in storage, and exactly one caller gets
// the invitation back. The loser gets ErrAlreadyUsed; an unknown or
// expired token gets ErrInvalid.
func (s *Store) MarkUsed(ctx context.Context, token string, usedByID primitive.ObjectID) (models.Invitation, error) {
	now := time.Now().UTC()
	var inv models.Invitation
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{
			"token":      token,
			"used":       false,
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{
			"used":       true,
			"used_by_id": usedByID,
			"used_at":    now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&inv)
	if err == nil {
		return inv, nil
	}
	if err != mongo.ErrNoDocuments {
		return models.Invitation{}, err
	}

	// Distinguish a lost race from a token that never matched: used=true
	// means someone else burned it.
	count, cerr := s.c.CountDocuments(ctx, bson.M{"token": token, "used": true})
	if cerr != nil {
		return models.Invitation{}, cerr
	}
	if count > 0 {
		return models.Invitation{}, ErrAlreadyUsed
	}
	return models.Invitation{}, ErrInvalid
}

// ListByWorkshop returns invitations for a workshop, newest first.
func (s *Store) ListByWorkshop(ctx context.Context, workshopID primitive.ObjectID, limit int64) ([]models.Invitation, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)
	cur, err := s.c.Find(ctx, bson.M{"workshop_id": workshopID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Invitation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByEmail returns invitations addressed to an email within a workshop.
// Served by the (email, workshop_id) index.
func (s *Store) ListByEmail(ctx context.Context, email string, workshopID primitive.ObjectID) ([]models.Invitation, error) {
	cur, err := s.c.Find(ctx, bson.M{"email": email, "workshop_id": workshopID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Invitation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteExpired removes unused invitations past their expiry. Used
// invitations are kept for audit and never physically deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{
		"used":       false,
		"expires_at": bson.M{"$lte": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteByWorkshop removes all invitations for a workshop (cascade on
// workshop deletion).
func (s *Store) DeleteByWorkshop(ctx context.Context, workshopID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"workshop_id": workshopID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// generateToken returns a cryptographically random opaque token.
func generateToken() string {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
