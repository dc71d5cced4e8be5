// internal/app/invite/invite.go
//
// Package invite issues and redeems invitation tokens. A token is a
// bearer capability: issuing one requires the invite permission, but
// redeeming only requires possession. Redemption burns the token with a
// compare-and-swap before touching the membership, so a token admits at
// most one user no matter how many redeem it concurrently.
package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/lifecycle"
	"github.com/atelierhq/atelier/internal/app/policy/workshoppolicy"
	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/atelierhq/atelier/internal/app/store/invitations"
	"github.com/atelierhq/atelier/internal/app/system/mailer"
	"github.com/atelierhq/atelier/internal/domain/models"
)

var (
	// ErrInvalid covers unknown and expired tokens; callers cannot tell
	// the two apart, so a token does not leak whether it ever existed.
	ErrInvalid = errors.New("invitation invalid or expired")

	// ErrAlreadyUsed means another redemption burned the token first.
	ErrAlreadyUsed = errors.New("invitation has already been used")
)

// Invitations is the slice of the invitation store the service uses.
type Invitations interface {
	Create(ctx context.Context, email string, workshopID primitive.ObjectID, roleID *primitive.ObjectID, invitedByID primitive.ObjectID) (models.Invitation, error)
	GetValidByToken(ctx context.Context, token string) (models.Invitation, error)
	MarkUsed(ctx context.Context, token string, usedByID primitive.ObjectID) (models.Invitation, error)
	Expiry() time.Duration
}

// Memberships activates the membership a burned token pays for.
type Memberships interface {
	ActivateFromInvitation(ctx context.Context, userID, workshopID primitive.ObjectID, roleID *primitive.ObjectID, inviterID primitive.ObjectID) (models.Membership, error)
}

// Workshops resolves the workshop an invitation targets.
type Workshops interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Workshop, error)
}

// Roles validates the role an invitation carries.
type Roles interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Role, error)
}

// Users resolves inviter display names for Peek and emails.
type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
}

// Authorizer guards invitation issuance.
type Authorizer interface {
	Check(ctx context.Context, actorID primitive.ObjectID, workshop models.Workshop, action models.Action, resource models.Resource, rc *workshoppolicy.ResourceContext) (bool, error)
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e activity.Entry) error
}

// Sender delivers the invitation email. Delivery is best effort; the
// token exists and can be shared out of band even if the email bounces.
type Sender interface {
	SendInvitation(ctx context.Context, email string, data mailer.InvitationEmailData) error
}

// Service issues, inspects, and redeems invitations.
type Service struct {
	invitations Invitations
	memberships Memberships
	workshops   Workshops
	roles       Roles
	users       Users
	authz       Authorizer
	audit       Recorder
	sender      Sender
	baseURL     string
	logger      *zap.Logger
}

// New wires an invitation service. sender may be nil to skip email.
func New(inv Invitations, m Memberships, w Workshops, r Roles, u Users, authz Authorizer, audit Recorder, sender Sender, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		invitations: inv,
		memberships: m,
		workshops:   w,
		roles:       r,
		users:       u,
		authz:       authz,
		audit:       audit,
		sender:      sender,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
	}
}

// Issue creates an invitation for an email address and sends the accept
// link. The inviter needs the invite permission on memberships.
func (s *Service) Issue(ctx context.Context, workshopID primitive.ObjectID, email string, roleID *primitive.ObjectID, inviterID primitive.ObjectID) (models.Invitation, error) {
	ws, err := s.workshops.GetByID(ctx, workshopID)
	if err != nil {
		return models.Invitation{}, fmt.Errorf("workshop %s: %w", workshopID.Hex(), lifecycle.ErrNotFound)
	}

	ok, err := s.authz.Check(ctx, inviterID, ws, models.ActionInvite, models.ResourceMembership, nil)
	if err != nil {
		return models.Invitation{}, fmt.Errorf("authorize invite: %w", err)
	}
	if !ok {
		return models.Invitation{}, fmt.Errorf("issue invitation for workshop %s: %w", workshopID.Hex(), lifecycle.ErrDenied)
	}

	if roleID != nil {
		role, err := s.roles.GetByID(ctx, *roleID)
		if err != nil || role.WorkshopID != workshopID {
			return models.Invitation{}, fmt.Errorf("role %s: %w", roleID.Hex(), lifecycle.ErrNotFound)
		}
	}

	inv, err := s.invitations.Create(ctx, email, workshopID, roleID, inviterID)
	if err != nil {
		return models.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}

	if err := s.recordIssued(ctx, ws, inv, inviterID); err != nil {
		return inv, err
	}

	s.sendBestEffort(ctx, ws, inv, inviterID)
	return inv, nil
}

// PeekResult describes an invitation without side effects, so a landing
// page can show what the token is for before the user commits.
type PeekResult struct {
	WorkshopName string
	InviterName  string
	Email        string
	ExpiresAt    time.Time
}

// Peek resolves a token to its workshop and inviter. It never mutates
// the invitation.
func (s *Service) Peek(ctx context.Context, token string) (PeekResult, error) {
	inv, err := s.invitations.GetValidByToken(ctx, token)
	if err != nil {
		return PeekResult{}, mapInvitationErr("peek invitation", err)
	}

	res := PeekResult{Email: inv.Email, ExpiresAt: inv.ExpiresAt}
	if ws, err := s.workshops.GetByID(ctx, inv.WorkshopID); err == nil {
		res.WorkshopName = ws.Name
	}
	if u, err := s.users.GetByID(ctx, inv.InvitedByID); err == nil {
		res.InviterName = u.FullName
	}
	return res, nil
}

// Redeem burns a token and activates the membership it pays for. The
// lifecycle records the one audit entry for the redemption as part of
// the activation. Activations that cannot possibly succeed are rejected
// before the burn so the token survives; if the activation fails after
// the token is burned the token stays burned and the caller gets
// ErrDependency. Retrying with the same token yields ErrAlreadyUsed,
// never a second activation.
func (s *Service) Redeem(ctx context.Context, token string, userID primitive.ObjectID) (models.Membership, error) {
	if err := ctx.Err(); err != nil {
		return models.Membership{}, err
	}

	inv, err := s.invitations.GetValidByToken(ctx, token)
	if err != nil {
		return models.Membership{}, mapInvitationErr("redeem invitation", err)
	}
	ws, err := s.workshops.GetByID(ctx, inv.WorkshopID)
	if err != nil {
		return models.Membership{}, fmt.Errorf("workshop %s: %w", inv.WorkshopID.Hex(), lifecycle.ErrNotFound)
	}
	if ws.IsOwner(userID) || ws.IsManager(userID) {
		return models.Membership{}, fmt.Errorf("owner and managers do not hold memberships: %w", lifecycle.ErrInvalidState)
	}

	inv, err = s.invitations.MarkUsed(ctx, token, userID)
	if err != nil {
		return models.Membership{}, mapInvitationErr("redeem invitation", err)
	}

	m, err := s.memberships.ActivateFromInvitation(ctx, userID, inv.WorkshopID, inv.RoleID, inv.InvitedByID)
	if err != nil {
		s.logger.Error("activation failed after token burn",
			zap.String("invitation_id", inv.ID.Hex()),
			zap.String("user_id", userID.Hex()),
			zap.Error(err))
		return models.Membership{}, fmt.Errorf("activate membership for invitation %s: %v: %w", inv.ID.Hex(), err, lifecycle.ErrDependency)
	}
	return m, nil
}

func (s *Service) recordIssued(ctx context.Context, ws models.Workshop, inv models.Invitation, inviterID primitive.ObjectID) error {
	if s.audit == nil {
		return nil
	}
	meta := map[string]string{"email": inv.Email}
	if inv.RoleID != nil {
		meta["role_id"] = inv.RoleID.Hex()
	}
	err := s.audit.Record(ctx, activity.Entry{
		WorkshopID:  ws.ID,
		ActorID:     inviterID,
		Category:    activity.CategoryInvitation,
		Action:      activity.ActionInvitationIssued,
		EntityType:  "invitation",
		EntityID:    inv.ID,
		EntityName:  ws.Name,
		Description: "invitation issued",
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("record invitation audit: %w", lifecycle.ErrDependency)
	}
	return nil
}

func (s *Service) sendBestEffort(ctx context.Context, ws models.Workshop, inv models.Invitation, inviterID primitive.ObjectID) {
	if s.sender == nil {
		return
	}

	inviterName := "A workshop manager"
	if u, err := s.users.GetByID(ctx, inviterID); err == nil {
		inviterName = u.FullName
	}

	data := mailer.InvitationEmailData{
		WorkshopName: ws.Name,
		InviterName:  inviterName,
		AcceptLink:   fmt.Sprintf("%s/invitations/%s", s.baseURL, inv.Token),
		ExpiresIn:    formatExpiry(s.invitations.Expiry()),
	}
	if err := s.sender.SendInvitation(ctx, inv.Email, data); err != nil {
		s.logger.Warn("invitation email failed",
			zap.String("invitation_id", inv.ID.Hex()),
			zap.Error(err))
	}
}

func formatExpiry(d time.Duration) string {
	if days := int(d.Hours() / 24); days >= 1 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours <= 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

func mapInvitationErr(op string, err error) error {
	switch {
	case errors.Is(err, invitationstore.ErrAlreadyUsed):
		return fmt.Errorf("%s: %w", op, ErrAlreadyUsed)
	case errors.Is(err, invitationstore.ErrInvalid):
		return fmt.Errorf("%s: %w", op, ErrInvalid)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
