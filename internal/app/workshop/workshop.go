// internal/app/workshop/workshop.go
//
// Package workshop manages the workshop aggregate itself: creation,
// updates to its mutable fields, the manager set, ownership transfer,
// and cascading deletion. Mutations are guarded at this boundary so the
// stores can stay thin; the owner invariant (the owner is never stored
// as a manager) is enforced again in the store layer.
package workshop

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/policy/workshoppolicy"
	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/atelierhq/atelier/internal/app/store/roles"
	"github.com/atelierhq/atelier/internal/app/store/workshops"
	"github.com/atelierhq/atelier/internal/domain/models"
)

var (
	// ErrDenied means the actor lacks permission for the operation.
	ErrDenied = errors.New("permission denied")

	// ErrNotFound means the workshop does not exist.
	ErrNotFound = errors.New("workshop not found")

	// ErrDuplicateName means another workshop already uses the name.
	ErrDuplicateName = errors.New("a workshop with this name already exists")

	// ErrInvalidState means the change would break a structural rule,
	// such as adding the owner to the manager set.
	ErrInvalidState = errors.New("invalid workshop state for this operation")

	// ErrDependency means the change committed but the audit entry could
	// not be recorded anywhere durable.
	ErrDependency = errors.New("dependency failure after commit")
)

// Workshops is the slice of the workshop store this service uses.
type Workshops interface {
	Create(ctx context.Context, ws models.Workshop) (models.Workshop, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Workshop, error)
	Update(ctx context.Context, id primitive.ObjectID, ws models.Workshop) error
	SetOwner(ctx context.Context, id, newOwnerID primitive.ObjectID) error
	AddManager(ctx context.Context, id, userID primitive.ObjectID) error
	RemoveManager(ctx context.Context, id, userID primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) (int64, error)
}

// Cascader deletes all documents scoped to a workshop. Every dependent
// store (roles, memberships, invitations, projects, teams) satisfies it.
type Cascader interface {
	DeleteByWorkshop(ctx context.Context, workshopID primitive.ObjectID) (int64, error)
}

// Roles is the slice of the role store used for role deletion.
type Roles interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Role, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// RoleHolders detaches a deleted role from every membership that holds it.
type RoleHolders interface {
	PullRoleFromAll(ctx context.Context, workshopID, roleID primitive.ObjectID) (int64, error)
}

// Authorizer answers permission checks for non-owner mutations.
type Authorizer interface {
	Check(ctx context.Context, actorID primitive.ObjectID, workshop models.Workshop, action models.Action, resource models.Resource, rc *workshoppolicy.ResourceContext) (bool, error)
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e activity.Entry) error
}

// Service manages workshops.
type Service struct {
	workshops Workshops
	roles     Roles
	holders   RoleHolders
	cascades  map[string]Cascader
	authz     Authorizer
	audit     Recorder
	logger    *zap.Logger
}

// New wires a workshop service. cascades maps a label used in audit
// metadata (for example "roles") to the store whose documents are
// removed when the workshop is deleted.
func New(w Workshops, r Roles, holders RoleHolders, cascades map[string]Cascader, authz Authorizer, audit Recorder, logger *zap.Logger) *Service {
	return &Service{
		workshops: w,
		roles:     r,
		holders:   holders,
		cascades:  cascades,
		authz:     authz,
		audit:     audit,
		logger:    logger,
	}
}

// CreateParams carries the caller-settable fields for a new workshop.
type CreateParams struct {
	Name           string
	Description    string
	Visibility     models.Visibility
	RequiredSkills []string
}

// Create makes a new workshop owned by ownerID. Anyone may create a
// workshop; the creator is the owner from the first write.
func (s *Service) Create(ctx context.Context, ownerID primitive.ObjectID, p CreateParams) (models.Workshop, error) {
	ws, err := s.workshops.Create(ctx, models.Workshop{
		Name:           p.Name,
		Description:    p.Description,
		Visibility:     p.Visibility,
		RequiredSkills: p.RequiredSkills,
		OwnerID:        ownerID,
	})
	if err != nil {
		return models.Workshop{}, mapWorkshopErr("create workshop", err)
	}

	return s.finish(ctx, ws, activity.Entry{
		WorkshopID:  ws.ID,
		ActorID:     ownerID,
		Category:    activity.CategoryWorkshop,
		Action:      activity.ActionCreated,
		EntityType:  "workshop",
		EntityID:    ws.ID,
		EntityName:  ws.Name,
		Description: "workshop created",
	})
}

// UpdateParams carries the mutable workshop fields. Zero-value Name and
// Visibility leave the stored values unchanged.
type UpdateParams struct {
	Name           string
	Description    string
	Visibility     models.Visibility
	RequiredSkills []string
}

// Update changes a workshop's mutable fields. The actor needs the
// update permission on the workshop, which owners and managers hold
// implicitly.
func (s *Service) Update(ctx context.Context, workshopID, actorID primitive.ObjectID, p UpdateParams) (models.Workshop, error) {
	ws, err := s.load(ctx, workshopID)
	if err != nil {
		return models.Workshop{}, err
	}
	if err := s.require(ctx, actorID, ws, models.ActionUpdate, models.ResourceWorkshop); err != nil {
		return models.Workshop{}, err
	}

	err = s.workshops.Update(ctx, workshopID, models.Workshop{
		Name:           p.Name,
		Description:    p.Description,
		Visibility:     p.Visibility,
		RequiredSkills: p.RequiredSkills,
	})
	if err != nil {
		return models.Workshop{}, mapWorkshopErr("update workshop", err)
	}
	updated, err := s.load(ctx, workshopID)
	if err != nil {
		return models.Workshop{}, err
	}

	return s.finish(ctx, updated, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryWorkshop,
		Action:      activity.ActionUpdated,
		EntityType:  "workshop",
		EntityID:    workshopID,
		EntityName:  updated.Name,
		Description: "workshop updated",
	})
}

// AddManager grants a user manager status. Only the owner changes the
// manager set; the owner themselves can never be added to it.
func (s *Service) AddManager(ctx context.Context, workshopID, userID, actorID primitive.ObjectID) error {
	ws, err := s.load(ctx, workshopID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ws, actorID, "change managers"); err != nil {
		return err
	}

	if err := s.workshops.AddManager(ctx, workshopID, userID); err != nil {
		return mapWorkshopErr("add manager", err)
	}

	_, err = s.finish(ctx, ws, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryWorkshop,
		Action:      activity.ActionUpdated,
		EntityType:  "workshop",
		EntityID:    workshopID,
		EntityName:  ws.Name,
		Description: "manager added",
		Metadata:    map[string]string{"manager_id": userID.Hex()},
	})
	return err
}

// RemoveManager revokes a user's manager status. Removing a user who is
// not a manager is a no-op that still succeeds.
func (s *Service) RemoveManager(ctx context.Context, workshopID, userID, actorID primitive.ObjectID) error {
	ws, err := s.load(ctx, workshopID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ws, actorID, "change managers"); err != nil {
		return err
	}

	if err := s.workshops.RemoveManager(ctx, workshopID, userID); err != nil {
		return mapWorkshopErr("remove manager", err)
	}

	_, err = s.finish(ctx, ws, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryWorkshop,
		Action:      activity.ActionUpdated,
		EntityType:  "workshop",
		EntityID:    workshopID,
		EntityName:  ws.Name,
		Description: "manager removed",
		Metadata:    map[string]string{"manager_id": userID.Hex()},
	})
	return err
}

// TransferOwnership hands the workshop to a new owner. The store pulls
// the new owner from the manager set in the same update.
func (s *Service) TransferOwnership(ctx context.Context, workshopID, newOwnerID, actorID primitive.ObjectID) error {
	ws, err := s.load(ctx, workshopID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ws, actorID, "transfer ownership"); err != nil {
		return err
	}
	if ws.IsOwner(newOwnerID) {
		return fmt.Errorf("user %s already owns the workshop: %w", newOwnerID.Hex(), ErrInvalidState)
	}

	if err := s.workshops.SetOwner(ctx, workshopID, newOwnerID); err != nil {
		return mapWorkshopErr("transfer ownership", err)
	}

	_, err = s.finish(ctx, ws, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryWorkshop,
		Action:      activity.ActionUpdated,
		EntityType:  "workshop",
		EntityID:    workshopID,
		EntityName:  ws.Name,
		Description: "ownership transferred",
		Metadata:    map[string]string{"new_owner_id": newOwnerID.Hex()},
	})
	return err
}

// Delete removes the workshop and everything scoped to it: roles,
// memberships, invitations, projects, and teams. The dependent
// collections are cleared before the workshop document so a failure
// partway leaves the workshop resolvable and the delete retryable.
func (s *Service) Delete(ctx context.Context, workshopID, actorID primitive.ObjectID) error {
	ws, err := s.load(ctx, workshopID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ws, actorID, "delete the workshop"); err != nil {
		return err
	}

	counts := make(map[string]string, len(s.cascades))
	for label, store := range s.cascades {
		n, err := store.DeleteByWorkshop(ctx, workshopID)
		if err != nil {
			return fmt.Errorf("delete workshop %s: cascade %s: %w", workshopID.Hex(), label, err)
		}
		counts[label] = fmt.Sprintf("%d", n)
	}

	if _, err := s.workshops.Delete(ctx, workshopID); err != nil {
		return mapWorkshopErr("delete workshop", err)
	}

	_, err = s.finish(ctx, ws, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryWorkshop,
		Action:      activity.ActionDeleted,
		EntityType:  "workshop",
		EntityID:    workshopID,
		EntityName:  ws.Name,
		Description: "workshop deleted",
		Metadata:    counts,
	})
	return err
}

// DeleteRole removes a role definition. Holders are detached first so
// no membership keeps a dangling role id; permission evaluation treats
// missing grants as deny, so a partial failure only ever narrows access.
func (s *Service) DeleteRole(ctx context.Context, workshopID, roleID, actorID primitive.ObjectID) error {
	ws, err := s.load(ctx, workshopID)
	if err != nil {
		return err
	}
	if err := s.require(ctx, actorID, ws, models.ActionManage, models.ResourceRole); err != nil {
		return err
	}
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil || role.WorkshopID != workshopID {
		return fmt.Errorf("role %s in workshop %s: %w", roleID.Hex(), workshopID.Hex(), ErrNotFound)
	}

	detached, err := s.holders.PullRoleFromAll(ctx, workshopID, roleID)
	if err != nil {
		return fmt.Errorf("detach role %s from members: %w", roleID.Hex(), err)
	}
	if err := s.roles.Delete(ctx, roleID); err != nil {
		if errors.Is(err, rolestore.ErrNotFound) {
			return fmt.Errorf("delete role: %w", ErrNotFound)
		}
		return fmt.Errorf("delete role: %w", err)
	}

	_, err = s.finish(ctx, ws, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryRole,
		Action:      activity.ActionDeleted,
		EntityType:  "role",
		EntityID:    roleID,
		EntityName:  role.Name,
		Description: "role deleted",
		Metadata:    map[string]string{"detached_members": fmt.Sprintf("%d", detached)},
	})
	return err
}

func (s *Service) load(ctx context.Context, id primitive.ObjectID) (models.Workshop, error) {
	ws, err := s.workshops.GetByID(ctx, id)
	if err != nil {
		return models.Workshop{}, mapWorkshopErr("load workshop", err)
	}
	return ws, nil
}

func (s *Service) require(ctx context.Context, actorID primitive.ObjectID, ws models.Workshop, action models.Action, resource models.Resource) error {
	ok, err := s.authz.Check(ctx, actorID, ws, action, resource, nil)
	if err != nil {
		return fmt.Errorf("authorize %s %s: %w", action, resource, err)
	}
	if !ok {
		return fmt.Errorf("%s %s in workshop %s: %w", action, resource, ws.ID.Hex(), ErrDenied)
	}
	return nil
}

func (s *Service) requireOwner(ws models.Workshop, actorID primitive.ObjectID, what string) error {
	if !ws.IsOwner(actorID) {
		return fmt.Errorf("only the owner may %s: %w", what, ErrDenied)
	}
	return nil
}

// finish records the audit entry for a committed change. The change has
// already happened, so an audit failure surfaces as ErrDependency
// alongside the committed workshop.
func (s *Service) finish(ctx context.Context, ws models.Workshop, e activity.Entry) (models.Workshop, error) {
	if s.audit == nil {
		return ws, nil
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Error("audit record failed after commit",
			zap.String("action", e.Action),
			zap.String("workshop_id", ws.ID.Hex()),
			zap.Error(err))
		return ws, fmt.Errorf("record %s audit: %w", e.Action, ErrDependency)
	}
	return ws, nil
}

func mapWorkshopErr(op string, err error) error {
	switch {
	case errors.Is(err, workshopstore.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, workshopstore.ErrDuplicateName):
		return fmt.Errorf("%s: %w", op, ErrDuplicateName)
	case errors.Is(err, workshopstore.ErrOwnerIsManager):
		return fmt.Errorf("%s: %v: %w", op, err, ErrInvalidState)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
