package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/lifecycle"
	workshoppolicy "github.com/atelierhq/atelier/internal/app/policy/workshoppolicy"
	"github.com/atelierhq/atelier/internal/app/store/activity"
	membershipstore "github.com/atelierhq/atelier/internal/app/store/memberships"
	"github.com/atelierhq/atelier/internal/app/system/notify"
	"github.com/atelierhq/atelier/internal/domain/models"
)

// memStore is an in-memory membership store that mirrors the guarded
// update semantics of the Mongo store: every transition checks the
// required from-state under one lock, so races have exactly one winner.
type memStore struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]*models.Membership
}

func newMemStore() *memStore {
	return &memStore{docs: map[primitive.ObjectID]*models.Membership{}}
}

func (s *memStore) find(userID, workshopID primitive.ObjectID) *models.Membership {
	for _, m := range s.docs {
		if m.UserID == userID && m.WorkshopID == workshopID {
			return m
		}
	}
	return nil
}

func (s *memStore) Get(_ context.Context, userID, workshopID primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.find(userID, workshopID); m != nil {
		return *m, nil
	}
	return models.Membership{}, membershipstore.ErrNotFound
}

func (s *memStore) GetByID(_ context.Context, id primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.docs[id]; ok {
		return *m, nil
	}
	return models.Membership{}, membershipstore.ErrNotFound
}

func (s *memStore) UpsertPending(_ context.Context, userID, workshopID primitive.ObjectID, source models.MembershipSource, actorID primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.find(userID, workshopID); m != nil {
		switch m.State {
		case models.MembershipPending:
			return models.Membership{}, membershipstore.ErrAlreadyPending
		case models.MembershipActive:
			return models.Membership{}, membershipstore.ErrAlreadyActive
		default:
			m.History = append(m.History, models.StateTransition{From: m.State, To: models.MembershipPending, ActorID: actorID, At: time.Now()})
			m.State = models.MembershipPending
			m.Source = source
			m.JoinedAt = nil
			m.Version++
			return *m, nil
		}
	}

	m := &models.Membership{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		UserID:     userID,
		State:      models.MembershipPending,
		Source:     source,
		Version:    1,
	}
	s.docs[m.ID] = m
	return *m, nil
}

func (s *memStore) Activate(_ context.Context, membershipID, actorID primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.docs[membershipID]
	if !ok {
		return models.Membership{}, membershipstore.ErrNotFound
	}
	if m.State != models.MembershipPending {
		return models.Membership{}, membershipstore.ErrStateChanged
	}
	now := time.Now()
	m.History = append(m.History, models.StateTransition{From: m.State, To: models.MembershipActive, ActorID: actorID, At: now})
	m.State = models.MembershipActive
	m.JoinedAt = &now
	m.Version++
	return *m, nil
}

func (s *memStore) Remove(ctx context.Context, userID, workshopID, actorID primitive.ObjectID, fromStates ...models.MembershipState) (models.Membership, error) {
	s.mu.Lock()
	m := s.find(userID, workshopID)
	s.mu.Unlock()
	if m == nil {
		return models.Membership{}, membershipstore.ErrNotFound
	}
	return s.RemoveByID(ctx, m.ID, actorID, fromStates...)
}

func (s *memStore) RemoveByID(_ context.Context, membershipID, actorID primitive.ObjectID, fromStates ...models.MembershipState) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.docs[membershipID]
	if !ok {
		return models.Membership{}, membershipstore.ErrNotFound
	}
	allowed := false
	for _, st := range fromStates {
		if m.State == st {
			allowed = true
		}
	}
	if !allowed {
		return models.Membership{}, membershipstore.ErrStateChanged
	}
	m.History = append(m.History, models.StateTransition{From: m.State, To: models.MembershipRemoved, ActorID: actorID})
	m.State = models.MembershipRemoved
	m.RoleIDs = nil
	m.Version++
	return *m, nil
}

func (s *memStore) AddRole(_ context.Context, userID, workshopID, roleID primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(userID, workshopID)
	if m == nil {
		return models.Membership{}, membershipstore.ErrNotFound
	}
	if m.State != models.MembershipActive {
		return models.Membership{}, membershipstore.ErrStateChanged
	}
	if !m.HasRole(roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	m.Version++
	return *m, nil
}

func (s *memStore) RemoveRole(_ context.Context, userID, workshopID, roleID primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(userID, workshopID)
	if m == nil {
		return models.Membership{}, membershipstore.ErrNotFound
	}
	if m.State != models.MembershipActive {
		return models.Membership{}, membershipstore.ErrStateChanged
	}
	var kept []primitive.ObjectID
	for _, id := range m.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	m.Version++
	return *m, nil
}

func (s *memStore) ActivateFromInvite(_ context.Context, userID, workshopID primitive.ObjectID, roleID *primitive.ObjectID, actorID primitive.ObjectID) (models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if m := s.find(userID, workshopID); m != nil {
		if m.State != models.MembershipActive {
			m.History = append(m.History, models.StateTransition{From: m.State, To: models.MembershipActive, ActorID: actorID, At: now})
			m.State = models.MembershipActive
			m.Source = models.SourceInvited
			m.JoinedAt = &now
		}
		if roleID != nil && !m.HasRole(*roleID) {
			m.RoleIDs = append(m.RoleIDs, *roleID)
		}
		m.Version++
		return *m, nil
	}

	m := &models.Membership{
		ID:         primitive.NewObjectID(),
		WorkshopID: workshopID,
		UserID:     userID,
		State:      models.MembershipActive,
		Source:     models.SourceInvited,
		JoinedAt:   &now,
		Version:    1,
	}
	if roleID != nil {
		m.RoleIDs = []primitive.ObjectID{*roleID}
	}
	s.docs[m.ID] = m
	return *m, nil
}

type fakeWorkshops map[primitive.ObjectID]models.Workshop

func (f fakeWorkshops) GetByID(_ context.Context, id primitive.ObjectID) (models.Workshop, error) {
	ws, ok := f[id]
	if !ok {
		return models.Workshop{}, errors.New("workshop not found")
	}
	return ws, nil
}

type fakeRoles map[primitive.ObjectID]models.Role

func (f fakeRoles) GetByID(_ context.Context, id primitive.ObjectID) (models.Role, error) {
	r, ok := f[id]
	if !ok {
		return models.Role{}, errors.New("role not found")
	}
	return r, nil
}

type fakeAuthz map[primitive.ObjectID]bool

func (f fakeAuthz) Check(_ context.Context, actorID primitive.ObjectID, _ models.Workshop, _ models.Action, _ models.Resource, _ *workshoppolicy.ResourceContext) (bool, error) {
	return f[actorID], nil
}

type recorder struct {
	mu      sync.Mutex
	entries []activity.Entry
	fail    bool
}

func (r *recorder) Record(_ context.Context, e activity.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("audit store down")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type notifications struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (n *notifications) Notify(_ context.Context, _ primitive.ObjectID, kind notify.Kind, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return nil
}

type harness struct {
	svc      *lifecycle.Service
	store    *memStore
	workshop models.Workshop
	owner    primitive.ObjectID
	roles    fakeRoles
	authz    fakeAuthz
	audit    *recorder
	notified *notifications
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		roles:    fakeRoles{},
		authz:    fakeAuthz{},
		audit:    &recorder{},
		notified: &notifications{},
	}
	h.owner = primitive.NewObjectID()
	h.workshop = models.Workshop{
		ID:         primitive.NewObjectID(),
		Name:       "Pottery",
		OwnerID:    h.owner,
		Visibility: models.VisibilityPublic,
	}
	h.authz[h.owner] = true

	workshops := fakeWorkshops{h.workshop.ID: h.workshop}
	h.svc = lifecycle.New(h.store, workshops, h.roles, h.authz, h.audit, h.notified, zap.NewNop())
	return h
}

func (h *harness) addRole(grants ...models.Grant) primitive.ObjectID {
	id := primitive.NewObjectID()
	h.roles[id] = models.Role{ID: id, WorkshopID: h.workshop.ID, Name: "r" + id.Hex()[:6], Grants: grants}
	return id
}

func TestRequestJoin(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	m, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("RequestJoin failed: %v", err)
	}
	if m.State != models.MembershipPending {
		t.Errorf("State: got %q, want %q", m.State, models.MembershipPending)
	}
	if got := h.audit.actions(); len(got) != 1 || got[0] != activity.ActionRequested {
		t.Errorf("audit actions: got %v, want [requested]", got)
	}
}

func TestRequestJoin_PrivateWorkshopDenied(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	private := models.Workshop{
		ID:         primitive.NewObjectID(),
		Name:       "Secret Forge",
		OwnerID:    h.owner,
		Visibility: models.VisibilityPrivate,
	}
	workshops := fakeWorkshops{private.ID: private}
	svc := lifecycle.New(h.store, workshops, h.roles, h.authz, h.audit, h.notified, zap.NewNop())

	_, err := svc.RequestJoin(ctx, primitive.NewObjectID(), private.ID)
	if !errors.Is(err, lifecycle.ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
}

func TestRequestJoin_OwnerCannotRequest(t *testing.T) {
	h := newHarness()

	_, err := h.svc.RequestJoin(context.Background(), h.owner, h.workshop.ID)
	if !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestRequestJoin_DuplicateIsInvalidState(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	if _, err := h.svc.RequestJoin(ctx, user, h.workshop.ID); err != nil {
		t.Fatalf("first RequestJoin failed: %v", err)
	}
	_, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for duplicate request, got %v", err)
	}
}

func TestApprove(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	pending, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("RequestJoin failed: %v", err)
	}

	m, err := h.svc.Approve(ctx, pending.ID, h.owner)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if m.State != models.MembershipActive {
		t.Errorf("State: got %q, want %q", m.State, models.MembershipActive)
	}
	if m.JoinedAt == nil {
		t.Error("JoinedAt should be set")
	}
	if got := h.notified.kinds; len(got) != 1 || got[0] != notify.KindMembershipApproved {
		t.Errorf("notifications: got %v, want [membership_approved]", got)
	}
}

func TestApprove_UnauthorizedActor(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	pending, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("RequestJoin failed: %v", err)
	}

	stranger := primitive.NewObjectID()
	_, err = h.svc.Approve(ctx, pending.ID, stranger)
	if !errors.Is(err, lifecycle.ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}

	m, _ := h.store.GetByID(ctx, pending.ID)
	if m.State != models.MembershipPending {
		t.Error("denied approval must not change state")
	}
}

func TestApprove_ConcurrentOneWinner(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	pending, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("RequestJoin failed: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Approve(ctx, pending.ID, h.owner)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, lifecycle.ErrInvalidState) {
			t.Errorf("loser got unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winning approval, got %d", wins)
	}
}

func TestReject(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	pending, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("RequestJoin failed: %v", err)
	}

	m, err := h.svc.Reject(ctx, pending.ID, h.owner)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if m.State != models.MembershipRemoved {
		t.Errorf("State: got %q, want %q", m.State, models.MembershipRemoved)
	}
}

func TestRevoke_ActiveMember(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	pending, _ := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	active, _ := h.svc.Approve(ctx, pending.ID, h.owner)

	m, err := h.svc.Revoke(ctx, active.ID, h.owner)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if m.State != models.MembershipRemoved {
		t.Errorf("State: got %q, want %q", m.State, models.MembershipRemoved)
	}
	if got := h.audit.actions(); got[len(got)-1] != activity.ActionRevoked {
		t.Errorf("last audit action: got %q, want revoked", got[len(got)-1])
	}
}

func TestLeave_AndRejoin(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	pending, _ := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if _, err := h.svc.Approve(ctx, pending.ID, h.owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	left, err := h.svc.Leave(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if left.State != models.MembershipRemoved {
		t.Errorf("State: got %q, want %q", left.State, models.MembershipRemoved)
	}

	// Re-request reuses the same document.
	again, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if err != nil {
		t.Fatalf("re-request failed: %v", err)
	}
	if again.ID != pending.ID {
		t.Error("re-request should revive the existing membership document")
	}
	if again.State != models.MembershipPending {
		t.Errorf("State: got %q, want %q", again.State, models.MembershipPending)
	}
}

func TestLeave_OwnerBlocked(t *testing.T) {
	h := newHarness()

	_, err := h.svc.Leave(context.Background(), h.owner, h.workshop.ID)
	if !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestAssignRole(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()
	roleID := h.addRole(models.Grant{Action: models.ActionRead, Resource: models.ResourceProject})

	pending, _ := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if _, err := h.svc.Approve(ctx, pending.ID, h.owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	m, err := h.svc.AssignRole(ctx, h.workshop.ID, user, roleID, h.owner)
	if err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if !m.HasRole(roleID) {
		t.Error("role not attached")
	}

	// Assigning again is a no-op that still succeeds.
	m, err = h.svc.AssignRole(ctx, h.workshop.ID, user, roleID, h.owner)
	if err != nil {
		t.Fatalf("repeat AssignRole failed: %v", err)
	}
	if len(m.RoleIDs) != 1 {
		t.Errorf("expected 1 role, got %d", len(m.RoleIDs))
	}
}

func TestAssignRole_ForeignRoleRejected(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()

	foreign := primitive.NewObjectID()
	h.roles[foreign] = models.Role{ID: foreign, WorkshopID: primitive.NewObjectID(), Name: "foreign"}

	pending, _ := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if _, err := h.svc.Approve(ctx, pending.ID, h.owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	_, err := h.svc.AssignRole(ctx, h.workshop.ID, user, foreign, h.owner)
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("expected ErrNotFound for role from another workshop, got %v", err)
	}
}

func TestRemoveRole(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()
	roleID := h.addRole(models.Grant{Action: models.ActionRead, Resource: models.ResourceProject})

	pending, _ := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if _, err := h.svc.Approve(ctx, pending.ID, h.owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := h.svc.AssignRole(ctx, h.workshop.ID, user, roleID, h.owner); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	m, err := h.svc.RemoveRole(ctx, h.workshop.ID, user, roleID, h.owner)
	if err != nil {
		t.Fatalf("RemoveRole failed: %v", err)
	}
	if m.HasRole(roleID) {
		t.Error("role should have been removed")
	}
}

func TestActivateFromInvitation_ExistingActiveGainsRole(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()
	roleID := h.addRole(models.Grant{Action: models.ActionRead, Resource: models.ResourceProject})

	pending, _ := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if _, err := h.svc.Approve(ctx, pending.ID, h.owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	m, err := h.svc.ActivateFromInvitation(ctx, user, h.workshop.ID, &roleID, h.owner)
	if err != nil {
		t.Fatalf("ActivateFromInvitation failed: %v", err)
	}
	if m.State != models.MembershipActive {
		t.Errorf("State: got %q, want %q", m.State, models.MembershipActive)
	}
	if !m.HasRole(roleID) {
		t.Error("invited role should attach to the existing active membership")
	}
}

func TestAuditFailure_SurfacesDependencyError(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	user := primitive.NewObjectID()
	h.audit.fail = true

	m, err := h.svc.RequestJoin(ctx, user, h.workshop.ID)
	if !errors.Is(err, lifecycle.ErrDependency) {
		t.Fatalf("expected ErrDependency, got %v", err)
	}
	// The transition itself committed.
	if m.State != models.MembershipPending {
		t.Errorf("committed membership should be returned, got state %q", m.State)
	}
	stored, getErr := h.store.GetByID(ctx, m.ID)
	if getErr != nil || stored.State != models.MembershipPending {
		t.Error("state change should persist despite the audit failure")
	}
}
