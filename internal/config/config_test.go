package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.PendingBookingTTL != 10*time.Minute {
		t.Errorf("expected 10m pending TTL, got %s", cfg.PendingBookingTTL)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("expected 5m sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.SlotDurationMinutes != 30 {
		t.Errorf("expected 30 minute slots, got %d", cfg.SlotDurationMinutes)
	}
	if cfg.PlanIntervalEnforced {
		t.Error("plan interval rule should be off by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PENDING_BOOKING_TTL", "3m")
	t.Setenv("DEFAULT_CONSULTATION_FEE_CENTS", "12500")
	t.Setenv("PLAN_INTERVAL_ENFORCED", "true")

	cfg := Load()

	if cfg.PendingBookingTTL != 3*time.Minute {
		t.Errorf("expected 3m pending TTL, got %s", cfg.PendingBookingTTL)
	}
	if cfg.DefaultConsultationFee != 12500 {
		t.Errorf("expected fee 12500, got %d", cfg.DefaultConsultationFee)
	}
	if !cfg.PlanIntervalEnforced {
		t.Error("expected plan interval rule to be enabled")
	}
}
