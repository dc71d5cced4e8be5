// Package workshoppolicy decides, for any (actor, action, resource,
// workshop) tuple, whether an operation is permitted.
//
// Evaluation order (first match wins, short-circuits):
//  1. Workshop owner: granted unconditionally.
//  2. Workshop manager: granted unconditionally.
//  3. Project maintainer / project manager: granted for actions on that
//     project and its tasks.
//  4. Project assignment (individual or via team): granted for read/update
//     class actions on that project and its tasks.
//  5. No active membership: denied.
//  6. Role grants: granted iff (action, resource) is in the union of the
//     membership's role grants.
//
// Owner and manager status are trust anchors that can never be revoked by
// role misconfiguration. The model is closed-world default-deny: absence
// of a matching grant is denial, and matching is exact (no wildcard or
// hierarchy between actions).
package workshoppolicy

import (
	"context"
	"fmt"

	"github.com/atelierhq/atelier/internal/app/store/memberships"
	"github.com/atelierhq/atelier/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MembershipSource loads the actor's membership for a workshop.
type MembershipSource interface {
	Get(ctx context.Context, userID, workshopID primitive.ObjectID) (models.Membership, error)
}

// RoleSource loads the roles referenced by a membership.
type RoleSource interface {
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Role, error)
}

// TeamSource answers team-membership questions for the project
// assignment path.
type TeamSource interface {
	IsMemberOfAny(ctx context.Context, userID primitive.ObjectID, teamIDs []primitive.ObjectID) (bool, error)
}

// ResourceContext narrows a check to one resource instance. The Project is
// always a resolved entity: callers load it before asking, so the
// evaluator never branches on populated-or-not representations.
type ResourceContext struct {
	Project *models.Project
}

// Evaluator combines ownership, manager status, project-scoped overrides,
// and workshop role grants into one authorization decision. It is a pure
// decision function over loaded state: it never mutates anything.
type Evaluator struct {
	memberships MembershipSource
	roles       RoleSource
	teams       TeamSource
}

// New constructs an Evaluator over the given sources.
func New(memberships MembershipSource, roles RoleSource, teams TeamSource) *Evaluator {
	return &Evaluator{
		memberships: memberships,
		roles:       roles,
		teams:       teams,
	}
}

// projectResource reports whether the resource type is covered by
// project-scoped overrides.
func projectResource(r models.Resource) bool {
	return r == models.ResourceProject || r == models.ResourceTask
}

// participationAction reports whether the action is in the read/update
// class that plain project assignment confers. Assignment implies
// participation rights, not management rights.
func participationAction(a models.Action) bool {
	return a == models.ActionRead || a == models.ActionUpdate
}

// Check reports whether actorID may perform action on the given resource
// type within the workshop. rc may be nil for workshop-level checks.
//
// Returns an error only when a load fails; a clean denial is (false, nil).
func (e *Evaluator) Check(ctx context.Context, actorID primitive.ObjectID, workshop models.Workshop, action models.Action, resource models.Resource, rc *ResourceContext) (bool, error) {
	if !models.ValidAction(action) || !models.ValidResource(resource) {
		return false, fmt.Errorf("unknown permission pair (%s, %s)", action, resource)
	}

	// 1. Owner, unconditionally.
	if workshop.IsOwner(actorID) {
		return true, nil
	}

	// 2. Manager, unconditionally.
	if workshop.IsManager(actorID) {
		return true, nil
	}

	// 3+4. Project-scoped overrides.
	if rc != nil && rc.Project != nil && projectResource(resource) {
		p := rc.Project
		if p.IsMaintainer(actorID) {
			return true, nil
		}
		if participationAction(action) {
			if p.IsAssignedUser(actorID) {
				return true, nil
			}
			inTeam, err := e.teams.IsMemberOfAny(ctx, actorID, p.AssignedTeamIDs)
			if err != nil {
				return false, fmt.Errorf("check team assignment: %w", err)
			}
			if inTeam {
				return true, nil
			}
		}
	}

	// 5. Role grants require an active membership.
	m, err := e.memberships.Get(ctx, actorID, workshop.ID)
	if err != nil {
		if err == membershipstore.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("load membership: %w", err)
	}
	if m.State != models.MembershipActive {
		return false, nil
	}

	// 6. Union of role grants, exact match.
	if len(m.RoleIDs) == 0 {
		return false, nil
	}
	roles, err := e.roles.GetByIDs(ctx, m.RoleIDs)
	if err != nil {
		return false, fmt.Errorf("load roles: %w", err)
	}
	for _, role := range roles {
		if role.Allows(action, resource) {
			return true, nil
		}
	}
	return false, nil
}
