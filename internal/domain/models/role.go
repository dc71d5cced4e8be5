// internal/domain/models/role.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Action is the closed set of operations a grant can permit. Matching is
// exact: "manage" does not imply "update"; every needed pair must be
// granted explicitly.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionInvite Action = "invite"
	ActionManage Action = "manage"
	ActionAssign Action = "assign"
)

// Resource is the closed set of resource types grants are scoped to.
type Resource string

const (
	ResourceWorkshop   Resource = "workshop"
	ResourceMembership Resource = "membership"
	ResourceTeam       Resource = "team"
	ResourceRole       Resource = "role"
	ResourceProject    Resource = "project"
	ResourceTask       Resource = "task"
	ResourceChatRoom   Resource = "chat_room"
	ResourceActivity   Resource = "activity"
)

// ValidAction reports whether a is a member of the closed action set.
func ValidAction(a Action) bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionInvite, ActionManage, ActionAssign:
		return true
	}
	return false
}

// ValidResource reports whether r is a member of the closed resource set.
func ValidResource(r Resource) bool {
	switch r {
	case ResourceWorkshop, ResourceMembership, ResourceTeam, ResourceRole,
		ResourceProject, ResourceTask, ResourceChatRoom, ResourceActivity:
		return true
	}
	return false
}

// Grant permits one (action, resource) pair. Grants are additive-only;
// there is no negative form.
type Grant struct {
	Action   Action   `bson:"action" json:"action"`
	Resource Resource `bson:"resource" json:"resource"`
}

// Role is a named, workshop-scoped bundle of permission grants. Roles are
// owned by their workshop; deleting a workshop cascades role deletion.
type Role struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkshopID primitive.ObjectID `bson:"workshop_id" json:"workshop_id"`
	Name       string             `bson:"name" json:"name"`
	NameCI     string             `bson:"name_ci" json:"name_ci"`
	Grants     []Grant            `bson:"grants,omitempty" json:"grants,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Allows reports whether this role grants the exact (action, resource) pair.
func (r Role) Allows(a Action, res Resource) bool {
	for _, g := range r.Grants {
		if g.Action == a && g.Resource == res {
			return true
		}
	}
	return false
}
