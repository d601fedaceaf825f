package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Slots.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Slots.MaxConcurrent)
	}
	if cfg.Slots.QueueTimeout != 300*time.Second {
		t.Errorf("QueueTimeout = %s, want 300s", cfg.Slots.QueueTimeout)
	}
	if cfg.Search.Timeout != 5*time.Minute {
		t.Errorf("Search.Timeout = %s, want 5m", cfg.Search.Timeout)
	}
	if cfg.Browser.LaunchTimeout != 60*time.Second {
		t.Errorf("LaunchTimeout = %s", cfg.Browser.LaunchTimeout)
	}
	if cfg.Solver.PollInterval != 3*time.Second || cfg.Solver.MaxAttempts != 40 {
		t.Errorf("solver polling = %s x %d", cfg.Solver.PollInterval, cfg.Solver.MaxAttempts)
	}
	if !cfg.Search.PlaceholderEnabled() {
		t.Error("placeholder should default on")
	}
	if cfg.Browser.Headful() {
		t.Error("default should be headless")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"MAX_CONCURRENT_BROWSERS": "5",
		"BROWSER_QUEUE_TIMEOUT":   "120",
		"SEARCH_TIMEOUT":          "2m30s",
		"TARGET_URL":              "http://localhost:9999/form",
		"BROWSER_HEADFUL":         "true",
		"ALLOWED_ORIGINS":         "https://a.test, https://b.test,",
		"PORT":                    "8080",
		"EXPOSE_SEARCHES":         "true",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Slots.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d", cfg.Slots.MaxConcurrent)
	}
	if cfg.Slots.QueueTimeout != 120*time.Second {
		t.Errorf("QueueTimeout = %s", cfg.Slots.QueueTimeout)
	}
	if cfg.Search.Timeout != 150*time.Second {
		t.Errorf("Search.Timeout = %s", cfg.Search.Timeout)
	}
	if cfg.Search.TargetURL != "http://localhost:9999/form" {
		t.Errorf("TargetURL = %q", cfg.Search.TargetURL)
	}
	if !cfg.Browser.Headful() {
		t.Error("BROWSER_HEADFUL=true should select headful")
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if !cfg.Server.ExposeSearches {
		t.Error("EXPOSE_SEARCHES=true should expose the search list")
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"MAX_CONCURRENT_BROWSERS": "zero",
		"BROWSER_QUEUE_TIMEOUT":   "-5",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	if cfg.Slots.MaxConcurrent != 3 || cfg.Slots.QueueTimeout != 300*time.Second {
		t.Error("invalid values must not be applied")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missingmoney.yaml")
	data := `
slots:
  max_concurrent: 2
search:
  timeout: 90s
  placeholder: false
browser:
  stealth: headful
  resource_blocking: []
solver:
  base_url: http://solver.local
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Slots.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d", cfg.Slots.MaxConcurrent)
	}
	if cfg.Slots.QueueTimeout != 300*time.Second {
		t.Errorf("QueueTimeout default not applied: %s", cfg.Slots.QueueTimeout)
	}
	if cfg.Search.Timeout != 90*time.Second {
		t.Errorf("Search.Timeout = %s", cfg.Search.Timeout)
	}
	if cfg.Search.PlaceholderEnabled() {
		t.Error("placeholder: false should disable it")
	}
	if !cfg.Browser.Headful() {
		t.Error("stealth: headful not applied")
	}
	if len(cfg.Browser.ResourceBlocking) != 0 {
		t.Errorf("explicit empty resource_blocking overwritten: %v", cfg.Browser.ResourceBlocking)
	}
	if cfg.Solver.BaseURL != "http://solver.local" {
		t.Errorf("BaseURL = %q", cfg.Solver.BaseURL)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"300", 300 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"45s", 45 * time.Second, false},
		{"0", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
