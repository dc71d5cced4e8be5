package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/atelierhq/atelier/internal/domain/models"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser creates a test user with the given name. The email is
// derived from the name so repeated calls stay unique per ObjectID.
func (f *Fixtures) CreateUser(ctx context.Context, name string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	id := primitive.NewObjectID()
	user := models.User{
		ID:         id,
		FullName:   name,
		FullNameCI: text.Fold(name),
		Email:      fmt.Sprintf("%s@test.local", id.Hex()),
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateWorkshop creates a public test workshop owned by ownerID.
func (f *Fixtures) CreateWorkshop(ctx context.Context, name string, ownerID primitive.ObjectID) models.Workshop {
	return f.CreateWorkshopWithVisibility(ctx, name, ownerID, models.VisibilityPublic)
}

// CreateWorkshopWithVisibility creates a test workshop with the given
// visibility.
func (f *Fixtures) CreateWorkshopWithVisibility(ctx context.Context, name string, ownerID primitive.ObjectID, vis models.Visibility) models.Workshop {
	f.t.Helper()

	now := time.Now().UTC()
	ws := models.Workshop{
		ID:         primitive.NewObjectID(),
		Name:       name,
		NameCI:     text.Fold(name),
		OwnerID:    ownerID,
		Visibility: vis,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("workshops").InsertOne(ctx, ws); err != nil {
		f.t.Fatalf("failed to create test workshop: %v", err)
	}
	return ws
}

// CreateRole creates a test role in the workshop with the given grants.
func (f *Fixtures) CreateRole(ctx context.Context, workshopID primitive.ObjectID, name string, grants ...models.Grant) models.Role {
	f.t.Helper()

	now := time.Now().UTC()
	role := models.Role{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		Name:       name,
		NameCI:     text.Fold(name),
		Grants:     grants,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("roles").InsertOne(ctx, role); err != nil {
		f.t.Fatalf("failed to create test role: %v", err)
	}
	return role
}

// CreateMembership creates a membership document directly, bypassing
// the lifecycle. Useful for seeding a starting state.
func (f *Fixtures) CreateMembership(ctx context.Context, userID, workshopID primitive.ObjectID, state models.MembershipState, roleIDs ...primitive.ObjectID) models.Membership {
	f.t.Helper()

	now := time.Now().UTC()
	m := models.Membership{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		UserID:     userID,
		State:      state,
		Source:     models.SourceRequested,
		RoleIDs:    roleIDs,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if state == models.MembershipActive {
		m.JoinedAt = &now
	}

	if _, err := f.db.Collection("memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// CreateTeam creates a test team with the given members.
func (f *Fixtures) CreateTeam(ctx context.Context, workshopID primitive.ObjectID, name string, memberIDs ...primitive.ObjectID) models.Team {
	f.t.Helper()

	now := time.Now().UTC()
	team := models.Team{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		Name:       name,
		NameCI:     text.Fold(name),
		MemberIDs:  memberIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("teams").InsertOne(ctx, team); err != nil {
		f.t.Fatalf("failed to create test team: %v", err)
	}
	return team
}

// CreateProject creates a test project in the workshop.
func (f *Fixtures) CreateProject(ctx context.Context, workshopID primitive.ObjectID, name string) models.Project {
	f.t.Helper()

	now := time.Now().UTC()
	p := models.Project{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		Name:       name,
		NameCI:     text.Fold(name),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := f.db.Collection("projects").InsertOne(ctx, p); err != nil {
		f.t.Fatalf("failed to create test project: %v", err)
	}
	return p
}

// CreateInvitation creates an unused invitation with the given token.
func (f *Fixtures) CreateInvitation(ctx context.Context, workshopID primitive.ObjectID, email, token string, invitedByID primitive.ObjectID, expiresAt time.Time) models.Invitation {
	f.t.Helper()

	inv := models.Invitation{
		ID:          primitive.NewObjectID(),
		Token:       token,
		Email:       email,
		WorkshopID:  workshopID,
		InvitedByID: invitedByID,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := f.db.Collection("invitations").InsertOne(ctx, inv); err != nil {
		f.t.Fatalf("failed to create test invitation: %v", err)
	}
	return inv
}
