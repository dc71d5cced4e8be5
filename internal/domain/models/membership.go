// internal/domain/models/membership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MembershipState is the lifecycle state of a user's standing in a workshop.
// A user with no Membership document (and who is not owner or manager) has
// no standing at all; that implicit "none" state is never persisted.
type MembershipState string

const (
	MembershipPending MembershipState = "pending"
	MembershipActive  MembershipState = "active"
	MembershipRemoved MembershipState = "removed"
)

// MembershipSource records how the membership entered the lifecycle.
type MembershipSource string

const (
	SourceRequested MembershipSource = "requested"
	SourceInvited   MembershipSource = "invited"
)

// StateTransition is one step of a membership's history, kept for audit
// reconstruction.
type StateTransition struct {
	From    MembershipState    `bson:"from" json:"from"`
	To      MembershipState    `bson:"to" json:"to"`
	ActorID primitive.ObjectID `bson:"actor_id" json:"actor_id"`
	At      time.Time          `bson:"at" json:"at"`
}

// Membership is the authoritative relationship between one user and one
// workshop. Exactly one document per (user_id, workshop_id); transitions
// mutate it in place, so re-joining after removal reuses and resets the
// same document.
type Membership struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkshopID  primitive.ObjectID `bson:"workshop_id" json:"workshop_id"`
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	State       MembershipState    `bson:"state" json:"state"`
	Source      MembershipSource   `bson:"source" json:"source"`

	// Workshop-scoped roles granted to this member. Only meaningful while
	// State is active; cleared on removal.
	RoleIDs []primitive.ObjectID `bson:"role_ids,omitempty" json:"role_ids,omitempty"`

	// Set on each transition into active.
	JoinedAt *time.Time `bson:"joined_at,omitempty" json:"joined_at,omitempty"`

	// Prior transitions, oldest first.
	History []StateTransition `bson:"history,omitempty" json:"history,omitempty"`

	// Version increments on every successful mutation. Transitions are
	// guarded on state, so this is a concurrency trace, not a lock.
	Version int64 `bson:"version" json:"version"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasRole reports whether roleID is currently granted to this membership.
func (m Membership) HasRole(roleID primitive.ObjectID) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
