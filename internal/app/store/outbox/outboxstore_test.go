package outboxstore_test

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atelierhq/atelier/internal/app/store/activity"
	outboxstore "github.com/atelierhq/atelier/internal/app/store/outbox"
	"github.com/atelierhq/atelier/internal/testutil"
)

func parkedEntry() activity.Entry {
	return activity.Entry{
		ID:         primitive.NewObjectID(),
		WorkshopID: primitive.NewObjectID(),
		ActorID:    primitive.NewObjectID(),
		Category:   activity.CategoryMembership,
		Action:     activity.ActionApproved,
		EntityType: "membership",
		EntityID:   primitive.NewObjectID(),
	}
}

func TestStore_Park(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e := parkedEntry()
	rec, err := store.Park(ctx, e, errors.New("activity write timed out"))
	if err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	if rec.Key == "" {
		t.Error("Key should be assigned")
	}
	if rec.Entry.ID != e.ID {
		t.Error("parked entry must keep its original ID")
	}
	if rec.LastError == "" {
		t.Error("LastError should carry the cause")
	}
	if rec.Attempts != 0 {
		t.Errorf("Attempts: got %d, want 0", rec.Attempts)
	}
}

func TestStore_ListPending_OldestFirst(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	first, err := store.Park(ctx, parkedEntry(), nil)
	if err != nil {
		t.Fatalf("Park failed: %v", err)
	}
	if _, err := store.Park(ctx, parkedEntry(), nil); err != nil {
		t.Fatalf("Park failed: %v", err)
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first.ID {
		t.Error("pending records should come back oldest first")
	}
}

func TestStore_MarkDelivered(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	rec, err := store.Park(ctx, parkedEntry(), nil)
	if err != nil {
		t.Fatalf("Park failed: %v", err)
	}

	if err := store.MarkDelivered(ctx, rec.ID); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count after delivery: got %d, want 0", n)
	}
}

func TestStore_MarkFailed_ExhaustionMovesToStuck(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := outboxstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	rec, err := store.Park(ctx, parkedEntry(), nil)
	if err != nil {
		t.Fatalf("Park failed: %v", err)
	}

	for i := 0; i < outboxstore.MaxAttempts; i++ {
		if err := store.MarkFailed(ctx, rec.ID, errors.New("still down")); err != nil {
			t.Fatalf("MarkFailed %d failed: %v", i, err)
		}
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("exhausted record should leave the pending set, got %d", len(pending))
	}

	stuck, err := store.ListStuck(ctx, 10)
	if err != nil {
		t.Fatalf("ListStuck failed: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 stuck record, got %d", len(stuck))
	}
	if stuck[0].Attempts != outboxstore.MaxAttempts {
		t.Errorf("Attempts: got %d, want %d", stuck[0].Attempts, outboxstore.MaxAttempts)
	}
	if stuck[0].LastError != "still down" {
		t.Errorf("LastError: got %q", stuck[0].LastError)
	}
}
