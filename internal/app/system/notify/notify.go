// internal/app/system/notify/notify.go
//
// Package notify delivers user-facing notifications for membership and
// invitation events. The lifecycle and invite services call a Notifier;
// delivery failures are logged, never surfaced to the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/system/mailer"
)

// Kind identifies a notification event.
type Kind string

const (
	KindMembershipApproved Kind = "membership_approved"
	KindInvitationIssued   Kind = "invitation_issued"
	KindRoleAssigned       Kind = "role_assigned"
	KindRoleRemoved        Kind = "role_removed"
)

// Notifier sends a notification to a registered user. Payload keys depend
// on the kind (workshop_name, role_name, accept_link, ...).
type Notifier interface {
	Notify(ctx context.Context, userID primitive.ObjectID, kind Kind, payload map[string]string) error

	// SendInvitation reaches an email address that may not belong to a
	// registered user yet.
	SendInvitation(ctx context.Context, email string, data mailer.InvitationEmailData) error
}

// Nop is a Notifier that discards everything. Used in tests and when SMTP
// is not configured.
type Nop struct{}

func (Nop) Notify(context.Context, primitive.ObjectID, Kind, map[string]string) error {
	return nil
}

func (Nop) SendInvitation(context.Context, string, mailer.InvitationEmailData) error {
	return nil
}

// EmailResolver looks up the delivery address for a user.
type EmailResolver interface {
	EmailForUser(ctx context.Context, userID primitive.ObjectID) (string, error)
}

// MailNotifier delivers notifications over SMTP.
type MailNotifier struct {
	mailer   *mailer.Mailer
	users    EmailResolver
	siteName string
	logger   *zap.Logger
}

// NewMailNotifier creates a Notifier backed by the given mailer.
func NewMailNotifier(m *mailer.Mailer, users EmailResolver, siteName string, logger *zap.Logger) *MailNotifier {
	return &MailNotifier{
		mailer:   m,
		users:    users,
		siteName: siteName,
		logger:   logger,
	}
}

func (n *MailNotifier) Notify(ctx context.Context, userID primitive.ObjectID, kind Kind, payload map[string]string) error {
	addr, err := n.users.EmailForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve email for user %s: %w", userID.Hex(), err)
	}

	var email mailer.Email
	switch kind {
	case KindMembershipApproved:
		email = mailer.BuildApprovalEmail(mailer.ApprovalEmailData{
			SiteName:     n.siteName,
			WorkshopName: payload["workshop_name"],
			WorkshopLink: payload["workshop_link"],
		})
	case KindRoleAssigned, KindRoleRemoved:
		email = mailer.BuildRoleChangeEmail(mailer.RoleChangeEmailData{
			SiteName:     n.siteName,
			WorkshopName: payload["workshop_name"],
			RoleName:     payload["role_name"],
			Assigned:     kind == KindRoleAssigned,
		})
	default:
		return fmt.Errorf("unknown notification kind %q", kind)
	}
	email.To = addr

	if err := n.mailer.Send(email); err != nil {
		return fmt.Errorf("send %s notification: %w", kind, err)
	}

	n.logger.Debug("notification sent",
		zap.String("kind", string(kind)),
		zap.String("user_id", userID.Hex()))
	return nil
}

func (n *MailNotifier) SendInvitation(ctx context.Context, email string, data mailer.InvitationEmailData) error {
	if data.SiteName == "" {
		data.SiteName = n.siteName
	}
	msg := mailer.BuildInvitationEmail(data)
	msg.To = email

	start := time.Now()
	if err := n.mailer.Send(msg); err != nil {
		return fmt.Errorf("send invitation to %s: %w", email, err)
	}
	n.logger.Debug("invitation email sent",
		zap.String("to", email),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
