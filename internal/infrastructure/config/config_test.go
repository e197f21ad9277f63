package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a temporary config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const minimalConfig = `
home:
  id: "home-test"
platform:
  base_url: "http://platform.local:8123"
  token: "test-token"
`

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Home.ID != "home-test" {
		t.Errorf("Home.ID = %q, want %q", cfg.Home.ID, "home-test")
	}
	if cfg.Platform.BaseURL != "http://platform.local:8123" {
		t.Errorf("Platform.BaseURL = %q", cfg.Platform.BaseURL)
	}

	// Defaults should fill unspecified sections
	if cfg.Engine.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want default 5", cfg.Engine.Breaker.FailureThreshold)
	}
	if cfg.Rollout.MinExecutions != 10 {
		t.Errorf("Rollout.MinExecutions = %d, want default 10", cfg.Rollout.MinExecutions)
	}
	if cfg.Graph.RefreshInterval != 300 {
		t.Errorf("Graph.RefreshInterval = %d, want default 300", cfg.Graph.RefreshInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "home: [not: valid")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestValidateMissingToken(t *testing.T) {
	path := writeConfig(t, `
home:
  id: "home-test"
platform:
  base_url: "http://platform.local:8123"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for missing token")
	}
	if !strings.Contains(err.Error(), "platform.token") {
		t.Errorf("error %q should mention platform.token", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	t.Setenv("EMBER_PLATFORM_TOKEN", "env-token")
	t.Setenv("EMBER_DATABASE_PATH", "/var/lib/ember/core.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Platform.Token != "env-token" {
		t.Errorf("Platform.Token = %q, want env override", cfg.Platform.Token)
	}
	if cfg.Database.Path != "/var/lib/ember/core.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestValidateBreakerThresholds(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
engine:
  max_parallel: 2
  breaker:
    failure_threshold: 0
    success_threshold: 1
    timeout: 30
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected validation error for zero failure threshold")
	}
}

func TestValidateErrorRateRange(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
rollout:
  max_error_rate: 1.5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected validation error for out-of-range error rate")
	}
}

func TestDurationHelpers(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := cfg.GetPlatformTimeout().Seconds(); got != 10 {
		t.Errorf("GetPlatformTimeout() = %vs, want 10s", got)
	}
	if got := cfg.GetServiceTTL().Seconds(); got != 600 {
		t.Errorf("GetServiceTTL() = %vs, want 600s", got)
	}
}
