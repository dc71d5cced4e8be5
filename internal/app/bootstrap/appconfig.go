// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like HTTP ports,
// TLS, logging level, and request limits. AppConfig is where everything
// specific to this application lives.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Max connection pool size
	MongoMinPoolSize uint64 // Min connection pool size

	// Email/SMTP configuration
	MailSMTPHost string // SMTP server host (e.g., localhost for Mailpit)
	MailSMTPPort int    // SMTP server port (e.g., 1025 for Mailpit, 587 for SES)
	MailSMTPUser string // SMTP username (empty for Mailpit)
	MailSMTPPass string // SMTP password
	MailFrom     string // From email address (e.g., noreply@atelier.dev)
	MailFromName string // From display name

	// Base URL for invitation accept links
	BaseURL string // e.g., "https://atelier.dev" or "http://localhost:3000"

	// Display name used in outgoing email
	SiteName string

	// Invitation settings
	InviteExpiry time.Duration // How long an unredeemed invitation stays valid

	// Audit logging: 'all' (db+log), 'db', 'log', or 'off'
	AuditLog string

	// Background job schedules (5-field cron specs, UTC)
	OutboxDrainSpec       string
	InvitationSweepSpec   string
	ActivityRetentionSpec string

	// Activity trail retention window
	ActivityRetention time.Duration

	// Max parked audit entries redelivered per drain tick
	OutboxDrainBatch int
}
