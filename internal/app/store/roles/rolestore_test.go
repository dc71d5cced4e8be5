package rolestore_test

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	rolestore "github.com/atelierhq/atelier/internal/app/store/roles"
	"github.com/atelierhq/atelier/internal/domain/models"
	"github.com/atelierhq/atelier/internal/testutil"
)

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	role, err := store.Create(ctx, models.Role{
		WorkshopID: primitive.NewObjectID(),
		Name:       "Instructor",
		Grants: []models.Grant{
			{Action: models.ActionCreate, Resource: models.ResourceProject},
			{Action: models.ActionRead, Resource: models.ResourceProject},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if role.ID.IsZero() {
		t.Error("ID should be assigned")
	}
	if role.NameCI != "instructor" {
		t.Errorf("NameCI: got %q", role.NameCI)
	}
}

func TestStore_Create_InvalidGrantRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.Create(ctx, models.Role{
		WorkshopID: primitive.NewObjectID(),
		Name:       "Broken",
		Grants:     []models.Grant{{Action: "fly", Resource: models.ResourceProject}},
	})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}

	_, err = store.Create(ctx, models.Role{
		WorkshopID: primitive.NewObjectID(),
		Name:       "Broken",
		Grants:     []models.Grant{{Action: models.ActionRead, Resource: "spaceship"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown resource")
	}
}

func TestStore_Create_DuplicateNamePerWorkshop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	testutil.EnsureIndexes(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	wsID := primitive.NewObjectID()
	if _, err := store.Create(ctx, models.Role{WorkshopID: wsID, Name: "Helper"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	_, err := store.Create(ctx, models.Role{WorkshopID: wsID, Name: "helper"})
	if !errors.Is(err, rolestore.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}

	// Same name in a different workshop is fine.
	if _, err := store.Create(ctx, models.Role{WorkshopID: primitive.NewObjectID(), Name: "Helper"}); err != nil {
		t.Errorf("same name in another workshop should succeed, got %v", err)
	}
}

func TestStore_GetByIDs_SkipsMissing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	role, err := store.Create(ctx, models.Role{WorkshopID: primitive.NewObjectID(), Name: "Curator"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	roles, err := store.GetByIDs(ctx, []primitive.ObjectID{role.ID, primitive.NewObjectID()})
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}
	if len(roles) != 1 || roles[0].ID != role.ID {
		t.Errorf("GetByIDs: got %d roles", len(roles))
	}
}

func TestStore_Update(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	role, err := store.Create(ctx, models.Role{WorkshopID: primitive.NewObjectID(), Name: "Assistant"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	grants := []models.Grant{{Action: models.ActionUpdate, Resource: models.ResourceTask}}
	if err := store.Update(ctx, role.ID, "Senior Assistant", grants); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByID(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "Senior Assistant" || got.NameCI != "senior assistant" {
		t.Errorf("name after update: %q / %q", got.Name, got.NameCI)
	}
	if len(got.Grants) != 1 || got.Grants[0].Action != models.ActionUpdate {
		t.Errorf("grants after update: %v", got.Grants)
	}
}

func TestStore_Update_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	err := store.Update(ctx, primitive.NewObjectID(), "Ghost", nil)
	if !errors.Is(err, rolestore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteByWorkshop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := rolestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	wsID := primitive.NewObjectID()
	for _, name := range []string{"A", "B", "C"} {
		if _, err := store.Create(ctx, models.Role{WorkshopID: wsID, Name: name}); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
	}
	other, err := store.Create(ctx, models.Role{WorkshopID: primitive.NewObjectID(), Name: "Keep"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, err := store.DeleteByWorkshop(ctx, wsID)
	if err != nil {
		t.Fatalf("DeleteByWorkshop failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted: got %d, want 3", deleted)
	}
	if _, err := store.GetByID(ctx, other.ID); err != nil {
		t.Errorf("role in another workshop should survive: %v", err)
	}
}
