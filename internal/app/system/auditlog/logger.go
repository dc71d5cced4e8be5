// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"fmt"

	"github.com/atelierhq/atelier/internal/app/store/activity"
	"github.com/atelierhq/atelier/internal/app/store/outbox"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"time"
)

// Config holds audit logging configuration.
//
// Mode values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap
// only), "off" (disabled).
type Config struct {
	Mode string
}

// Logger is the audit sink for the lifecycle and invitation services.
// It appends ActivityHistory entries to MongoDB and mirrors them to
// structured logs. When the live database write fails the entry is parked
// in the outbox collection for background delivery, so a record is never
// silently lost while the business transition it describes stands.
type Logger struct {
	store  *activity.Store
	outbox *outboxstore.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger. outbox may be nil, in which case a
// failed live write is surfaced to the caller instead of parked.
func New(store *activity.Store, outbox *outboxstore.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		outbox: outbox,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap mirrors the entry to zap with consistent structure.
func (l *Logger) logToZap(e activity.Entry) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", e.Category),
		zap.String("action", e.Action),
		zap.String("workshop_id", e.WorkshopID.Hex()),
		zap.String("actor_id", e.ActorID.Hex()),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID.Hex()),
	}
	if e.EntityName != "" {
		fields = append(fields, zap.String("entity_name", e.EntityName))
	}
	for k, v := range e.Metadata {
		fields = append(fields, zap.String("meta_"+k, v))
	}
	l.zapLog.Info("activity", fields...)
}

// Record appends exactly one activity entry for one logical change.
// If the logger is nil, this is a no-op (allows tests to use nil audit
// logger). The entry's ID is fixed here so any outbox redelivery of the
// same entry is idempotent.
//
// An error return means the entry could be neither written nor parked;
// callers treat that as a dependency failure, but the state change the
// entry describes has already committed and must not be unwound.
func (l *Logger) Record(ctx context.Context, e activity.Entry) error {
	if l == nil {
		return nil
	}
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if l.config.Mode == "off" {
		return nil
	}

	if l.config.Mode == "all" || l.config.Mode == "log" {
		l.logToZap(e)
	}

	if l.config.Mode != "all" && l.config.Mode != "db" {
		return nil
	}

	if err := l.store.Append(ctx, e); err != nil {
		if l.outbox == nil {
			return fmt.Errorf("append activity: %w", err)
		}
		rec, parkErr := l.outbox.Park(ctx, e, err)
		if parkErr != nil {
			return fmt.Errorf("append activity (%v); park outbox: %w", err, parkErr)
		}
		l.zapLog.Warn("activity write failed; parked in outbox",
			zap.String("outbox_key", rec.Key),
			zap.String("action", e.Action),
			zap.Error(err))
	}
	return nil
}
