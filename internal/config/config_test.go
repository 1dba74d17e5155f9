package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STUDIODESK_SERVICE_URL", "https://api.example.com")
	t.Setenv("STUDIODESK_API_KEY", "anon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MetricsAddr != ":9180" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.BootTimeout != 10*time.Second {
		t.Errorf("BootTimeout = %v", cfg.BootTimeout)
	}
	if cfg.RatePerSec != 20 || cfg.RateBurst != 40 {
		t.Errorf("rate defaults = %v/%v", cfg.RatePerSec, cfg.RateBurst)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STUDIODESK_SERVICE_URL", "https://api.example.com")
	t.Setenv("STUDIODESK_API_KEY", "anon")
	t.Setenv("STUDIODESK_METRICS_ADDR", ":7070")
	t.Setenv("STUDIODESK_BOOT_TIMEOUT", "3s")
	t.Setenv("STUDIODESK_RATE_PER_SEC", "5")
	t.Setenv("STUDIODESK_RATE_BURST", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MetricsAddr != ":7070" || cfg.BootTimeout != 3*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.RatePerSec != 5 || cfg.RateBurst != 10 {
		t.Errorf("rate overrides not applied: %+v", cfg)
	}
}

func TestLoadRequiresServiceCredentials(t *testing.T) {
	t.Setenv("STUDIODESK_SERVICE_URL", "")
	t.Setenv("STUDIODESK_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing-URL error")
	}

	t.Setenv("STUDIODESK_SERVICE_URL", "https://api.example.com")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing-key error")
	}
}

func TestLoadDemoModeSkipsRequirements(t *testing.T) {
	t.Setenv("STUDIODESK_SERVICE_URL", "")
	t.Setenv("STUDIODESK_API_KEY", "")
	t.Setenv("STUDIODESK_DEMO", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("demo mode should not require credentials: %v", err)
	}
	if !cfg.DemoMode {
		t.Fatalf("DemoMode not set")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("STUDIODESK_SERVICE_URL", "https://api.example.com")
	t.Setenv("STUDIODESK_API_KEY", "anon")
	t.Setenv("STUDIODESK_BOOT_TIMEOUT", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
