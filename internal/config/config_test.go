package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadTrialDefaults(t *testing.T) {
	t.Setenv("TRIAL_DAYS", "")
	t.Setenv("TRIAL_ENABLED", "")

	cfg := Load()
	if cfg.TrialDays != 7 {
		t.Fatalf("expected default trial of 7 days, got %d", cfg.TrialDays)
	}
	if !cfg.TrialEnabled {
		t.Fatalf("expected trial to be enabled by default")
	}
}

func TestLoadTrialDisabled(t *testing.T) {
	t.Setenv("TRIAL_ENABLED", "false")

	cfg := Load()
	if cfg.TrialEnabled {
		t.Fatalf("expected TRIAL_ENABLED=false to disable the trial")
	}
}

func TestLoadRejectsNegativeTrialDays(t *testing.T) {
	t.Setenv("TRIAL_DAYS", "-3")

	cfg := Load()
	if cfg.TrialDays != 7 {
		t.Fatalf("expected fallback to 7 days on invalid input, got %d", cfg.TrialDays)
	}
}
