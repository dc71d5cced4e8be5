// internal/domain/models/workshop.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Visibility controls who can discover a workshop and request to join it.
type Visibility string

const (
	// VisibilityPublic workshops accept join requests from any user.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate workshops are invitation-only.
	VisibilityPrivate Visibility = "private"
)

// Workshop represents a top-level tenant container in Atelier.
// Each workshop is isolated from others and owns its:
// - Projects, teams, members, and roles
// - Invitations and activity history
//
// All major entities (memberships, roles, projects, teams, invitations,
// activity entries) belong to exactly one workshop via their workshop_id
// field.
//
// Exactly one owner exists at any time. OwnerID is never present in
// ManagerIDs: owner status supersedes manager status and is implicit,
// not a grant.
type Workshop struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Display name for the workshop
	Name   string `bson:"name" json:"name"`
	NameCI string `bson:"name_ci" json:"name_ci"` // Case-insensitive for search

	Description string `bson:"description,omitempty" json:"description,omitempty"`

	// The single owning user. Mutable only by the owner.
	OwnerID primitive.ObjectID `bson:"owner_id" json:"owner_id"`

	// Managers hold unconditional authority inside the workshop,
	// second only to the owner. Never contains OwnerID.
	ManagerIDs []primitive.ObjectID `bson:"manager_ids,omitempty" json:"manager_ids,omitempty"`

	// Visibility: "public" or "private"
	Visibility Visibility `bson:"visibility" json:"visibility"`

	// Skills requested of prospective members (informational).
	RequiredSkills []string `bson:"required_skills,omitempty" json:"required_skills,omitempty"`

	// Audit fields
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsOwner reports whether userID is the workshop owner.
func (w Workshop) IsOwner(userID primitive.ObjectID) bool {
	return w.OwnerID == userID
}

// IsManager reports whether userID is one of the workshop managers.
// The owner is not a manager; owner status is checked separately, and a
// corrupt document that lists the owner in ManagerIDs does not change that.
func (w Workshop) IsManager(userID primitive.ObjectID) bool {
	if w.IsOwner(userID) {
		return false
	}
	for _, id := range w.ManagerIDs {
		if id == userID {
			return true
		}
	}
	return false
}
