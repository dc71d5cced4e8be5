// internal/app/lifecycle/lifecycle.go
//
// Package lifecycle drives membership state transitions for workshops.
// Every operation follows the same shape: authorize the actor, apply a
// single guarded store write, record an audit entry, and fire a
// best-effort notification. The guarded write is the linearization
// point; two racing callers see exactly one winner and the loser gets
// ErrInvalidState or ErrConflict.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/policy/workshoppolicy"
	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/atelierhq/atelier/internal/app/store/memberships"
	"github.com/atelierhq/atelier/internal/app/system/notify"
	"github.com/atelierhq/atelier/internal/domain/models"
)

var (
	// ErrDenied means the actor lacks permission for the operation.
	ErrDenied = errors.New("permission denied")

	// ErrNotFound means the workshop, membership, or role does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the membership is not in a state the
	// requested transition accepts.
	ErrInvalidState = errors.New("invalid membership state for this operation")

	// ErrConflict means a concurrent operation won the race and retrying
	// did not converge.
	ErrConflict = errors.New("conflicting concurrent operation")

	// ErrDependency means the state change committed but a required
	// follow-up (audit) could not be recorded anywhere durable.
	ErrDependency = errors.New("dependency failure after commit")
)

// Upsert races against concurrent requesters resolve quickly; the
// retry window only needs to cover a handful of interleavings.
const (
	upsertRetries  = 4
	upsertMinDelay = 25 * time.Millisecond
	upsertMaxDelay = 400 * time.Millisecond
)

// Memberships is the slice of the membership store the lifecycle uses.
type Memberships interface {
	Get(ctx context.Context, userID, workshopID primitive.ObjectID) (models.Membership, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Membership, error)
	UpsertPending(ctx context.Context, userID, workshopID primitive.ObjectID, source models.MembershipSource, actorID primitive.ObjectID) (models.Membership, error)
	Activate(ctx context.Context, membershipID, actorID primitive.ObjectID) (models.Membership, error)
	Remove(ctx context.Context, userID, workshopID, actorID primitive.ObjectID, fromStates ...models.MembershipState) (models.Membership, error)
	RemoveByID(ctx context.Context, membershipID, actorID primitive.ObjectID, fromStates ...models.MembershipState) (models.Membership, error)
	AddRole(ctx context.Context, userID, workshopID, roleID primitive.ObjectID) (models.Membership, error)
	RemoveRole(ctx context.Context, userID, workshopID, roleID primitive.ObjectID) (models.Membership, error)
	ActivateFromInvite(ctx context.Context, userID, workshopID primitive.ObjectID, roleID *primitive.ObjectID, actorID primitive.ObjectID) (models.Membership, error)
}

// Workshops resolves the workshop a transition targets.
type Workshops interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Workshop, error)
}

// Roles resolves role documents for role assignment.
type Roles interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Role, error)
}

// Authorizer answers permission checks for privileged transitions.
type Authorizer interface {
	Check(ctx context.Context, actorID primitive.ObjectID, workshop models.Workshop, action models.Action, resource models.Resource, rc *workshoppolicy.ResourceContext) (bool, error)
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e activity.Entry) error
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(ctx context.Context, userID primitive.ObjectID, kind notify.Kind, payload map[string]string) error
}

// Service implements the membership lifecycle.
type Service struct {
	memberships Memberships
	workshops   Workshops
	roles       Roles
	authz       Authorizer
	audit       Recorder
	notifier    Notifier
	logger      *zap.Logger
}

// New wires a lifecycle service. notifier may be notify.Nop{}.
func New(m Memberships, w Workshops, r Roles, authz Authorizer, audit Recorder, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		memberships: m,
		workshops:   w,
		roles:       r,
		authz:       authz,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
	}
}

// RequestJoin creates (or revives) a pending join request for a public
// workshop. Private workshops only admit members by invitation.
func (s *Service) RequestJoin(ctx context.Context, userID, workshopID primitive.ObjectID) (models.Membership, error) {
	ws, err := s.getWorkshop(ctx, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if ws.Visibility != models.VisibilityPublic {
		return models.Membership{}, fmt.Errorf("workshop %s is not public: %w", workshopID.Hex(), ErrDenied)
	}
	if ws.IsOwner(userID) || ws.IsManager(userID) {
		return models.Membership{}, fmt.Errorf("owner and managers do not hold memberships: %w", ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	var m models.Membership
	retrier := retry.NewRetrier(upsertRetries, upsertMinDelay, upsertMaxDelay)
	err = retrier.Run(func() error {
		var upErr error
		m, upErr = s.memberships.UpsertPending(ctx, userID, workshopID, models.SourceRequested, userID)
		if upErr != nil && !errors.Is(upErr, membershipstore.ErrInsertRace) {
			return retry.Stop(upErr)
		}
		return upErr
	})
	if err != nil {
		if errors.Is(err, membershipstore.ErrInsertRace) {
			return models.Membership{}, fmt.Errorf("request join: %w", ErrConflict)
		}
		return models.Membership{}, mapMembershipErr("request join", err)
	}

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     userID,
		Category:    activity.CategoryMembership,
		Action:      activity.ActionRequested,
		EntityType:  "membership",
		EntityID:    m.ID,
		Description: "join request submitted",
	})
}

// Approve moves a pending membership to active. The approver needs the
// invite permission on memberships in the workshop.
func (s *Service) Approve(ctx context.Context, membershipID, approverID primitive.ObjectID) (models.Membership, error) {
	_, ws, err := s.loadMembership(ctx, membershipID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.require(ctx, approverID, ws, models.ActionInvite, models.ResourceMembership); err != nil {
		return models.Membership{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	m, err := s.memberships.Activate(ctx, membershipID, approverID)
	if err != nil {
		return models.Membership{}, mapMembershipErr("approve membership", err)
	}

	s.notifyBestEffort(ctx, m.UserID, notify.KindMembershipApproved, map[string]string{
		"workshop_name": ws.Name,
	})

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  ws.ID,
		ActorID:     approverID,
		Category:    activity.CategoryMembership,
		Action:      activity.ActionApproved,
		EntityType:  "membership",
		EntityID:    m.ID,
		Description: "join request approved",
		Metadata:    map[string]string{"member_id": m.UserID.Hex()},
	})
}

// Reject removes a pending membership without admitting the user.
func (s *Service) Reject(ctx context.Context, membershipID, approverID primitive.ObjectID) (models.Membership, error) {
	_, ws, err := s.loadMembership(ctx, membershipID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.require(ctx, approverID, ws, models.ActionInvite, models.ResourceMembership); err != nil {
		return models.Membership{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	m, err := s.memberships.RemoveByID(ctx, membershipID, approverID, models.MembershipPending)
	if err != nil {
		return models.Membership{}, mapMembershipErr("reject membership", err)
	}

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  ws.ID,
		ActorID:     approverID,
		Category:    activity.CategoryMembership,
		Action:      activity.ActionRejected,
		EntityType:  "membership",
		EntityID:    m.ID,
		Description: "join request rejected",
		Metadata:    map[string]string{"member_id": m.UserID.Hex()},
	})
}

// Revoke removes an active membership. The workshop owner cannot be
// revoked because ownership is not membership.
func (s *Service) Revoke(ctx context.Context, membershipID, actorID primitive.ObjectID) (models.Membership, error) {
	target, ws, err := s.loadMembership(ctx, membershipID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.require(ctx, actorID, ws, models.ActionDelete, models.ResourceMembership); err != nil {
		return models.Membership{}, err
	}
	if ws.IsOwner(target.UserID) {
		return models.Membership{}, fmt.Errorf("cannot revoke the workshop owner: %w", ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	m, err := s.memberships.RemoveByID(ctx, membershipID, actorID, models.MembershipActive)
	if err != nil {
		return models.Membership{}, mapMembershipErr("revoke membership", err)
	}

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  ws.ID,
		ActorID:     actorID,
		Category:    activity.CategoryMembership,
		Action:      activity.ActionRevoked,
		EntityType:  "membership",
		EntityID:    m.ID,
		Description: "membership revoked",
		Metadata:    map[string]string{"member_id": m.UserID.Hex()},
	})
}

// Leave lets an active member remove themselves. Owners must transfer
// ownership before leaving.
func (s *Service) Leave(ctx context.Context, userID, workshopID primitive.ObjectID) (models.Membership, error) {
	ws, err := s.getWorkshop(ctx, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if ws.IsOwner(userID) {
		return models.Membership{}, fmt.Errorf("owner must transfer ownership before leaving: %w", ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	m, err := s.memberships.Remove(ctx, userID, workshopID, userID, models.MembershipActive)
	if err != nil {
		return models.Membership{}, mapMembershipErr("leave workshop", err)
	}

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     userID,
		Category:    activity.CategoryMembership,
		Action:      activity.ActionLeft,
		EntityType:  "membership",
		EntityID:    m.ID,
		Description: "member left the workshop",
	})
}

// AssignRole grants a workshop role to an active member. Assigning a
// role the member already holds is a no-op that still succeeds.
func (s *Service) AssignRole(ctx context.Context, workshopID, userID, roleID, actorID primitive.ObjectID) (models.Membership, error) {
	ws, err := s.getWorkshop(ctx, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.require(ctx, actorID, ws, models.ActionManage, models.ResourceRole); err != nil {
		return models.Membership{}, err
	}
	role, err := s.lookupRole(ctx, roleID, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	m, err := s.memberships.AddRole(ctx, userID, workshopID, roleID)
	if err != nil {
		return models.Membership{}, mapMembershipErr("assign role", err)
	}

	s.notifyBestEffort(ctx, userID, notify.KindRoleAssigned, map[string]string{
		"workshop_name": ws.Name,
		"role_name":     role.Name,
	})

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryRole,
		Action:      activity.ActionRoleAssigned,
		EntityType:  "membership",
		EntityID:    m.ID,
		EntityName:  role.Name,
		Description: "role assigned to member",
		Metadata: map[string]string{
			"member_id": userID.Hex(),
			"role_id":   roleID.Hex(),
		},
	})
}

// RemoveRole takes a workshop role away from an active member.
func (s *Service) RemoveRole(ctx context.Context, workshopID, userID, roleID, actorID primitive.ObjectID) (models.Membership, error) {
	ws, err := s.getWorkshop(ctx, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.require(ctx, actorID, ws, models.ActionManage, models.ResourceRole); err != nil {
		return models.Membership{}, err
	}
	role, err := s.lookupRole(ctx, roleID, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	m, err := s.memberships.RemoveRole(ctx, userID, workshopID, roleID)
	if err != nil {
		return models.Membership{}, mapMembershipErr("remove role", err)
	}

	s.notifyBestEffort(ctx, userID, notify.KindRoleRemoved, map[string]string{
		"workshop_name": ws.Name,
		"role_name":     role.Name,
	})

	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     actorID,
		Category:    activity.CategoryRole,
		Action:      activity.ActionRoleRemoved,
		EntityType:  "membership",
		EntityID:    m.ID,
		EntityName:  role.Name,
		Description: "role removed from member",
		Metadata: map[string]string{
			"member_id": userID.Hex(),
			"role_id":   roleID.Hex(),
		},
	})
}

// ActivateFromInvitation admits a user who redeemed an invitation token.
// The token itself is the authorization; no permission check runs here.
// If the user is already an active member the invited role is attached
// and the call succeeds.
func (s *Service) ActivateFromInvitation(ctx context.Context, userID, workshopID primitive.ObjectID, roleID *primitive.ObjectID, inviterID primitive.ObjectID) (models.Membership, error) {
	ws, err := s.getWorkshop(ctx, workshopID)
	if err != nil {
		return models.Membership{}, err
	}
	if ws.IsOwner(userID) || ws.IsManager(userID) {
		return models.Membership{}, fmt.Errorf("owner and managers do not hold memberships: %w", ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	var m models.Membership
	retrier := retry.NewRetrier(upsertRetries, upsertMinDelay, upsertMaxDelay)
	err = retrier.Run(func() error {
		var actErr error
		m, actErr = s.memberships.ActivateFromInvite(ctx, userID, workshopID, roleID, inviterID)
		if actErr != nil && !errors.Is(actErr, membershipstore.ErrInsertRace) {
			return retry.Stop(actErr)
		}
		return actErr
	})
	if err != nil {
		if errors.Is(err, membershipstore.ErrInsertRace) {
			return models.Membership{}, fmt.Errorf("activate from invitation: %w", ErrConflict)
		}
		return models.Membership{}, mapMembershipErr("activate from invitation", err)
	}

	meta := map[string]string{"source": "invitation", "member_id": userID.Hex()}
	if roleID != nil {
		meta["role_id"] = roleID.Hex()
	}
	return s.finish(ctx, m, activity.Entry{
		WorkshopID:  workshopID,
		ActorID:     userID,
		Category:    activity.CategoryMembership,
		Action:      activity.ActionJoined,
		EntityType:  "membership",
		EntityID:    m.ID,
		Description: "member joined via invitation",
		Metadata:    meta,
	})
}

func (s *Service) getWorkshop(ctx context.Context, id primitive.ObjectID) (models.Workshop, error) {
	ws, err := s.workshops.GetByID(ctx, id)
	if err != nil {
		return models.Workshop{}, fmt.Errorf("workshop %s: %w", id.Hex(), ErrNotFound)
	}
	return ws, nil
}

func (s *Service) loadMembership(ctx context.Context, membershipID primitive.ObjectID) (models.Membership, models.Workshop, error) {
	m, err := s.memberships.GetByID(ctx, membershipID)
	if err != nil {
		return models.Membership{}, models.Workshop{}, mapMembershipErr("load membership", err)
	}
	ws, err := s.getWorkshop(ctx, m.WorkshopID)
	if err != nil {
		return models.Membership{}, models.Workshop{}, err
	}
	return m, ws, nil
}

func (s *Service) lookupRole(ctx context.Context, roleID, workshopID primitive.ObjectID) (models.Role, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return models.Role{}, fmt.Errorf("role %s: %w", roleID.Hex(), ErrNotFound)
	}
	if role.WorkshopID != workshopID {
		return models.Role{}, fmt.Errorf("role %s belongs to another workshop: %w", roleID.Hex(), ErrNotFound)
	}
	return role, nil
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

// finish records the audit entry for a committed transition. The state
// change has already happened, so an audit failure surfaces as
// ErrDependency alongside the committed membership.
func (s *Service) finish(ctx context.Context, m models.Membership, e activity.Entry) (models.Membership, error) {
	if s.audit == nil {
		return m, nil
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Error("audit record failed after commit",
			zap.String("action", e.Action),
			zap.String("membership_id", m.ID.Hex()),
			zap.Error(err))
		return m, fmt.Errorf("record %s audit: %w", e.Action, ErrDependency)
	}
	return m, nil
}

func (s *Service) notifyBestEffort(ctx context.Context, userID primitive.ObjectID, kind notify.Kind, payload map[string]string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.logger.Warn("notification failed",
			zap.String("kind", string(kind)),
			zap.String("user_id", userID.Hex()),
			zap.Error(err))
	}
}

func mapMembershipErr(op string, err error) error {
	switch {
	case errors.Is(err, membershipstore.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, membershipstore.ErrStateChanged),
		errors.Is(err, membershipstore.ErrAlreadyPending),
		errors.Is(err, membershipstore.ErrAlreadyActive):
		return fmt.Errorf("%s: %v: %w", op, err, ErrInvalidState)
	case errors.Is(err, membershipstore.ErrInsertRace):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
