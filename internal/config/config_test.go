package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "")
	t.Setenv("STORE_BACKEND", "")
	cfg := Load()
	if cfg.GracePeriod != 15*time.Minute || cfg.AbsentHorizon != 30*time.Minute {
		t.Fatalf("windows = %s/%s", cfg.GracePeriod, cfg.AbsentHorizon)
	}
	if cfg.StoreBackend != "postgres" || cfg.SweepSchedule != "@every 1m" || !cfg.MigrateOnStart {
		t.Fatalf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "10m")
	t.Setenv("ABSENT_HORIZON", "bogus")
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("SWEEP_CONCURRENCY", "3")
	t.Setenv("MIGRATE_ON_START", "no")
	cfg := Load()
	if cfg.GracePeriod != 10*time.Minute {
		t.Errorf("grace = %s", cfg.GracePeriod)
	}
	if cfg.AbsentHorizon != 30*time.Minute {
		t.Errorf("invalid horizon did not fall back: %s", cfg.AbsentHorizon)
	}
	if cfg.StoreBackend != "mongo" || cfg.SweepConcurrency != 3 || cfg.MigrateOnStart {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	base := Load()
	cases := map[string]func(*App){
		"store":  func(a *App) { a.StoreBackend = "sqlite" },
		"lock":   func(a *App) { a.LockBackend = "etcd" },
		"notify": func(a *App) { a.NotifyBackend = "sms" },
		"grace":  func(a *App) { a.GracePeriod = 0 },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
