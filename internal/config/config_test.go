package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite default backend, got %q", cfg.DBBackend)
	}
	if !cfg.MusicEnabled {
		t.Fatal("expected music enabled by default")
	}
	if cfg.FadeTick != 25*time.Millisecond {
		t.Fatalf("unexpected default fade tick: %s", cfg.FadeTick)
	}
	if cfg.FallbackResume != FallbackResumePosition {
		t.Fatalf("unexpected default fallback resume policy: %q", cfg.FallbackResume)
	}
	if cfg.Suppression != SuppressNever {
		t.Fatalf("unexpected default suppression mode: %q", cfg.Suppression)
	}
}

func TestLoadReadsPlaybackEnvKeys(t *testing.T) {
	t.Setenv("THEMELINE_SKIP_FIRST_SELECTION", "true")
	t.Setenv("THEMELINE_ROTATE_ON_SELECT", "yes")
	t.Setenv("THEMELINE_FADE_IN_MS", "3500")
	t.Setenv("THEMELINE_FALLBACK_PATH", "/media/fallback.ogg")
	t.Setenv("THEMELINE_SUPPRESSION", "while-active")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.SkipFirstSelection {
		t.Fatal("expected skip-first-selection enabled")
	}
	if !cfg.RotateOnSelect {
		t.Fatal("expected rotate-on-select enabled")
	}
	if cfg.FadeIn != 3500*time.Millisecond {
		t.Fatalf("unexpected fade-in: %s", cfg.FadeIn)
	}
	if cfg.FallbackPath != "/media/fallback.ogg" {
		t.Fatalf("unexpected fallback path: %q", cfg.FallbackPath)
	}
	if cfg.Suppression != SuppressWhileActive {
		t.Fatalf("unexpected suppression mode: %q", cfg.Suppression)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		key   string
		value string
	}{
		"db backend":      {"THEMELINE_DB_BACKEND", "oracle"},
		"event bus":       {"THEMELINE_EVENT_BUS", "kafka"},
		"suppression":     {"THEMELINE_SUPPRESSION", "sometimes"},
		"resume policy":   {"THEMELINE_FALLBACK_RESUME", "maybe"},
		"fade tick range": {"THEMELINE_FADE_TICK_MS", "200"},
		"base volume":     {"THEMELINE_BASE_VOLUME", "1.5"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected load to fail for %s=%s", tc.key, tc.value)
			}
		})
	}
}
