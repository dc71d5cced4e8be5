// internal/domain/models/invitation.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Invitation is a single-use, expiring bearer token that grants active
// membership on redemption. Redeemed invitations are marked used and kept
// for audit; they are never physically deleted.
type Invitation struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Opaque, unguessable token. Unique across all invitations.
	Token string `bson:"token" json:"-"`

	Email      string             `bson:"email" json:"email"`
	WorkshopID primitive.ObjectID `bson:"workshop_id" json:"workshop_id"`

	// Role to grant on redemption, if any.
	RoleID *primitive.ObjectID `bson:"role_id,omitempty" json:"role_id,omitempty"`

	InvitedByID primitive.ObjectID `bson:"invited_by_id" json:"invited_by_id"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`

	// Single-use flag, flipped atomically on redemption.
	Used     bool                `bson:"used" json:"used"`
	UsedByID *primitive.ObjectID `bson:"used_by_id,omitempty" json:"used_by_id,omitempty"`
	UsedAt   *time.Time          `bson:"used_at,omitempty" json:"used_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Expired reports whether the invitation is past its expiry at the given
// instant.
func (i Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
