// internal/domain/models/team.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Team groups workshop members so projects can be assigned to them
// collectively. Team membership confers participation rights on assigned
// projects, not management rights.
type Team struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkshopID primitive.ObjectID `bson:"workshop_id" json:"workshop_id"`
	Name       string             `bson:"name" json:"name"`
	NameCI     string             `bson:"name_ci" json:"name_ci"`

	MemberIDs []primitive.ObjectID `bson:"member_ids,omitempty" json:"member_ids,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// HasMember reports whether userID belongs to this team.
func (t Team) HasMember(userID primitive.ObjectID) bool {
	for _, id := range t.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
