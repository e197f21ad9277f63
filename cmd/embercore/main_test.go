package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunInvalidConfigPath(t *testing.T) {
	originalEnv := os.Getenv("EMBER_CONFIG")
	defer os.Setenv("EMBER_CONFIG", originalEnv)

	os.Setenv("EMBER_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Missing platform token fails validation before any connection is
	// attempted.
	configContent := `
home:
  id: home-test
platform:
  base_url: http://127.0.0.1:1
database:
  path: ` + filepath.Join(tmpDir, "test.db") + `
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	originalEnv := os.Getenv("EMBER_CONFIG")
	defer os.Setenv("EMBER_CONFIG", originalEnv)
	os.Setenv("EMBER_CONFIG", configPath)

	// The token env override must not rescue the config under test.
	originalToken := os.Getenv("EMBER_PLATFORM_TOKEN")
	defer os.Setenv("EMBER_PLATFORM_TOKEN", originalToken)
	os.Unsetenv("EMBER_PLATFORM_TOKEN")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail validation without a platform token")
	}
}

func TestGetConfigPath(t *testing.T) {
	originalEnv := os.Getenv("EMBER_CONFIG")
	defer os.Setenv("EMBER_CONFIG", originalEnv)

	os.Unsetenv("EMBER_CONFIG")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("default path = %q, want %q", got, defaultConfigPath)
	}

	os.Setenv("EMBER_CONFIG", "/etc/embercore/config.yaml")
	if got := getConfigPath(); got != "/etc/embercore/config.yaml" {
		t.Errorf("env path = %q", got)
	}
}
