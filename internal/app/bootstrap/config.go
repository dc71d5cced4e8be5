// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for Atelier.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, base_url, etc.
//   - Environment variables: ATELIER_MONGO_URI, ATELIER_BASE_URL, etc.
//   - Command-line flags: --mongo_uri, --base_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "atelier", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@atelier.dev", Desc: "From email address"},
	{Name: "mail_from_name", Default: "Atelier", Desc: "From display name"},

	// Base URL for invitation accept links
	{Name: "base_url", Default: "http://localhost:3000", Desc: "Base URL for invitation links"},
	{Name: "site_name", Default: "Atelier", Desc: "Display name used in outgoing email"},

	// Invitation settings
	{Name: "invite_expiry", Default: "168h", Desc: "Invitation validity window (e.g., 168h for 7 days)"},

	// Audit logging settings
	{Name: "audit_log", Default: "all", Desc: "Audit logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Background job schedules (5-field cron specs, UTC)
	{Name: "outbox_drain_spec", Default: "* * * * *", Desc: "Schedule for audit outbox redelivery"},
	{Name: "invitation_sweep_spec", Default: "17 * * * *", Desc: "Schedule for expired invitation cleanup"},
	{Name: "activity_retention_spec", Default: "41 3 * * *", Desc: "Schedule for activity trail trimming"},
	{Name: "activity_retention", Default: "8760h", Desc: "Activity trail retention window (default: 1 year)"},
	{Name: "outbox_drain_batch", Default: 100, Desc: "Max parked audit entries redelivered per tick"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// It is called early in startup so that both WAFFLE and the app have
// access to configuration before any backends or handlers are built.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, ATELIER_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "ATELIER", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		// Email/SMTP
		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		// Links and display
		BaseURL:  appValues.String("base_url"),
		SiteName: appValues.String("site_name"),

		// Invitations
		InviteExpiry: appValues.Duration("invite_expiry", 7*24*time.Hour),

		// Audit logging
		AuditLog: appValues.String("audit_log"),

		// Background jobs
		OutboxDrainSpec:       appValues.String("outbox_drain_spec"),
		InvitationSweepSpec:   appValues.String("invitation_sweep_spec"),
		ActivityRetentionSpec: appValues.String("activity_retention_spec"),
		ActivityRetention:     appValues.Duration("activity_retention", 365*24*time.Hour),
		OutboxDrainBatch:      appValues.Int("outbox_drain_batch"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// This is the right place to enforce required fields or invariants that
// involve both the core and app configs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	switch appCfg.AuditLog {
	case "all", "db", "log", "off":
	default:
		return fmt.Errorf("audit_log must be 'all', 'db', 'log', or 'off', got %q", appCfg.AuditLog)
	}

	if appCfg.InviteExpiry <= 0 {
		return fmt.Errorf("invite_expiry must be positive, got %s", appCfg.InviteExpiry)
	}
	if appCfg.ActivityRetention <= 0 {
		return fmt.Errorf("activity_retention must be positive, got %s", appCfg.ActivityRetention)
	}
	if appCfg.OutboxDrainBatch <= 0 {
		return fmt.Errorf("outbox_drain_batch must be positive, got %d", appCfg.OutboxDrainBatch)
	}

	return nil
}
