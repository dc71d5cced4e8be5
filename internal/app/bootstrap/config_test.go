package bootstrap

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func validAppConfig() AppConfig {
	return AppConfig{
		MongoURI:          "mongodb://localhost:27017",
		MongoDatabase:     "atelier_test",
		AuditLog:          "all",
		InviteExpiry:      7 * 24 * time.Hour,
		ActivityRetention: 365 * 24 * time.Hour,
		OutboxDrainBatch:  100,
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	if err := ValidateConfig(nil, validAppConfig(), zap.NewNop()); err != nil {
		t.Fatalf("ValidateConfig failed on valid config: %v", err)
	}
}

func TestValidateConfig_BadMongoURI(t *testing.T) {
	cfg := validAppConfig()
	cfg.MongoURI = "postgres://localhost:5432"

	err := ValidateConfig(nil, cfg, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for non-mongo URI")
	}
}

func TestValidateConfig_BadAuditMode(t *testing.T) {
	cfg := validAppConfig()
	cfg.AuditLog = "verbose"

	err := ValidateConfig(nil, cfg, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for unknown audit mode")
	}
	if !strings.Contains(err.Error(), "audit_log") {
		t.Errorf("expected audit_log in error, got %q", err)
	}
}

func TestValidateConfig_NonPositiveDurations(t *testing.T) {
	cfg := validAppConfig()
	cfg.InviteExpiry = 0
	if err := ValidateConfig(nil, cfg, zap.NewNop()); err == nil {
		t.Error("expected error for zero invite_expiry")
	}

	cfg = validAppConfig()
	cfg.ActivityRetention = -time.Hour
	if err := ValidateConfig(nil, cfg, zap.NewNop()); err == nil {
		t.Error("expected error for negative activity_retention")
	}

	cfg = validAppConfig()
	cfg.OutboxDrainBatch = 0
	if err := ValidateConfig(nil, cfg, zap.NewNop()); err == nil {
		t.Error("expected error for zero outbox_drain_batch")
	}
}
