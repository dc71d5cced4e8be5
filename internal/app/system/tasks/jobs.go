// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/atelierhq/atelier/internal/app/store/invitations"
	"github.com/atelierhq/atelier/internal/app/store/outbox"
)

// OutboxDrainJob creates a job that redelivers parked audit entries.
// Entries carry fixed IDs, so a redelivery racing the original write
// lands on the duplicate-key index and counts as delivered.
func OutboxDrainJob(ob *outboxstore.Store, act *activity.Store, logger *zap.Logger, spec string, batch int64) Job {
	return Job{
		Name: "audit-outbox-drain",
		Spec: spec,
		Run: func(ctx context.Context) error {
			pending, err := ob.ListPending(ctx, batch)
			if err != nil {
				return err
			}

			var delivered, failed int
			for _, rec := range pending {
				if err := act.Append(ctx, rec.Entry); err != nil && !wafflemongo.IsDup(err) {
					failed++
					if markErr := ob.MarkFailed(ctx, rec.ID, err); markErr != nil {
						logger.Warn("mark outbox record failed",
							zap.String("key", rec.Key),
							zap.Error(markErr))
					}
					continue
				}
				if err := ob.MarkDelivered(ctx, rec.ID); err != nil {
					logger.Warn("mark outbox record delivered",
						zap.String("key", rec.Key),
						zap.Error(err))
					continue
				}
				delivered++
			}

			if delivered > 0 || failed > 0 {
				logger.Info("audit outbox drained",
					zap.Int("delivered", delivered),
					zap.Int("failed", failed))
			}
			return nil
		},
	}
}

// InvitationSweepJob creates a job that deletes expired unused
// invitations. Used invitations stay for the audit trail.
func InvitationSweepJob(inv *invitationstore.Store, logger *zap.Logger, spec string) Job {
	return Job{
		Name: "invitation-sweep",
		Spec: spec,
		Run: func(ctx context.Context) error {
			count, err := inv.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Info("swept expired invitations", zap.Int64("count", count))
			}
			return nil
		},
	}
}

// ActivityRetentionJob creates a job that trims activity entries older
// than the retention window.
func ActivityRetentionJob(act *activity.Store, logger *zap.Logger, spec string, retention time.Duration) Job {
	return Job{
		Name: "activity-retention",
		Spec: spec,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().UTC().Add(-retention)
			count, err := act.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Info("trimmed activity entries",
					zap.Int64("count", count),
					zap.Time("cutoff", cutoff))
			}
			return nil
		},
	}
}
