// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/invite"
	"github.com/atelierhq/atelier/internal/app/lifecycle"
	"github.com/atelierhq/atelier/internal/app/policy/workshoppolicy"
	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/atelierhq/atelier/internal/app/store/invitations"
	"github.com/atelierhq/atelier/internal/app/store/memberships"
	"github.com/atelierhq/atelier/internal/app/store/outbox"
	"github.com/atelierhq/atelier/internal/app/store/projects"
	"github.com/atelierhq/atelier/internal/app/store/roles"
	"github.com/atelierhq/atelier/internal/app/store/teams"
	"github.com/atelierhq/atelier/internal/app/store/users"
	"github.com/atelierhq/atelier/internal/app/store/workshops"
	"github.com/atelierhq/atelier/internal/app/system/auditlog"
	"github.com/atelierhq/atelier/internal/app/system/mailer"
	"github.com/atelierhq/atelier/internal/app/system/notify"
	"github.com/atelierhq/atelier/internal/app/system/tasks"
	"github.com/atelierhq/atelier/internal/app/workshop"
)

// Services is the composition root for the access-control engine. It is
// built once in Startup and shared with BuildHandler and background jobs.
type Services struct {
	Users       *userstore.Store
	Workshops   *workshopstore.Store
	Memberships *membershipstore.Store
	Roles       *rolestore.Store
	Invitations *invitationstore.Store
	Teams       *teamstore.Store
	Projects    *projectstore.Store

	Policy        *workshoppolicy.Evaluator
	Audit         *auditlog.Logger
	Lifecycle     *lifecycle.Service
	Invites       *invite.Service
	WorkshopAdmin *workshop.Service
}

var (
	services *Services
	runner   *tasks.Runner
)

// Engine returns the composition root built by Startup. It is nil until
// Startup has run.
func Engine() *Services {
	return services
}

// Startup runs one-time application initialization after DB connections
// and schema setup are complete, but before the HTTP handler is built.
// It wires the stores, policy evaluator, and services together and
// starts the background job runner.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	db := deps.MongoDatabase

	users := userstore.New(db)
	workshops := workshopstore.New(db)
	memberships := membershipstore.New(db)
	roles := rolestore.New(db)
	invitations := invitationstore.New(db, appCfg.InviteExpiry)
	teams := teamstore.New(db)
	projects := projectstore.New(db)
	activityStore := activity.New(db)
	outbox := outboxstore.New(db)

	policy := workshoppolicy.New(memberships, roles, teams)
	audit := auditlog.New(activityStore, outbox, logger, auditlog.Config{Mode: appCfg.AuditLog})

	var notifier lifecycle.Notifier = notify.Nop{}
	var sender invite.Sender
	if appCfg.MailSMTPHost != "" {
		m := mailer.New(appCfg.MailSMTPHost, appCfg.MailSMTPPort, appCfg.MailSMTPUser, appCfg.MailSMTPPass, appCfg.MailFrom, appCfg.MailFromName)
		mailNotifier := notify.NewMailNotifier(m, users, appCfg.SiteName, logger)
		notifier = mailNotifier
		sender = mailNotifier
	}

	lc := lifecycle.New(memberships, workshops, roles, policy, audit, notifier, logger)
	inv := invite.New(invitations, lc, workshops, roles, users, policy, audit, sender, appCfg.BaseURL, logger)
	wsAdmin := workshop.New(workshops, roles, memberships, map[string]workshop.Cascader{
		"roles":       roles,
		"memberships": memberships,
		"invitations": invitations,
		"projects":    projects,
		"teams":       teams,
	}, policy, audit, logger)

	services = &Services{
		Users:       users,
		Workshops:   workshops,
		Memberships: memberships,
		Roles:       roles,
		Invitations: invitations,
		Teams:       teams,
		Projects:    projects,

		Policy:        policy,
		Audit:         audit,
		Lifecycle:     lc,
		Invites:       inv,
		WorkshopAdmin: wsAdmin,
	}

	// Background jobs: outbox redelivery, invitation sweeping, and
	// activity retention.
	runner = tasks.NewRunner(logger, 0)
	jobs := []tasks.Job{
		tasks.OutboxDrainJob(outbox, activityStore, logger, appCfg.OutboxDrainSpec, int64(appCfg.OutboxDrainBatch)),
		tasks.InvitationSweepJob(invitations, logger, appCfg.InvitationSweepSpec),
		tasks.ActivityRetentionJob(activityStore, logger, appCfg.ActivityRetentionSpec, appCfg.ActivityRetention),
	}
	for _, job := range jobs {
		if err := runner.Register(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	runner.Start()

	logger.Info("access-control engine ready",
		zap.String("audit_mode", appCfg.AuditLog),
		zap.Duration("invite_expiry", appCfg.InviteExpiry))
	return nil
}
