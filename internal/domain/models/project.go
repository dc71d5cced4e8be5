// internal/domain/models/project.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Project is a unit of work inside a workshop. The assignment fields are
// resource-scoped overrides: appearing in them grants elevated rights on
// this project and its tasks regardless of workshop-level roles.
//
// Body fields (title, description, due dates) carry no authorization
// weight and are persisted as plain data.
type Project struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkshopID primitive.ObjectID `bson:"workshop_id" json:"workshop_id"`
	Name       string             `bson:"name" json:"name"`
	NameCI     string             `bson:"name_ci" json:"name_ci"`

	Description string     `bson:"description,omitempty" json:"description,omitempty"`
	DueAt       *time.Time `bson:"due_at,omitempty" json:"due_at,omitempty"`

	// Teams whose members participate in this project.
	AssignedTeamIDs []primitive.ObjectID `bson:"assigned_team_ids,omitempty" json:"assigned_team_ids,omitempty"`
	// Individually assigned participants.
	AssignedUserIDs []primitive.ObjectID `bson:"assigned_user_ids,omitempty" json:"assigned_user_ids,omitempty"`
	// Maintainers hold full rights on this project and its tasks.
	MaintainerIDs []primitive.ObjectID `bson:"maintainer_ids,omitempty" json:"maintainer_ids,omitempty"`
	// Optional single project manager, equivalent in rights to a maintainer.
	ProjectManagerID *primitive.ObjectID `bson:"project_manager_id,omitempty" json:"project_manager_id,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsMaintainer reports whether userID maintains this project, either via
// the maintainer list or as the project manager.
func (p Project) IsMaintainer(userID primitive.ObjectID) bool {
	if p.ProjectManagerID != nil && *p.ProjectManagerID == userID {
		return true
	}
	for _, id := range p.MaintainerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAssignedUser reports whether userID is individually assigned.
func (p Project) IsAssignedUser(userID primitive.ObjectID) bool {
	for _, id := range p.AssignedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
