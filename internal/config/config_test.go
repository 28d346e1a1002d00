package config_test

import (
	"os"
	"testing"

	"github.com/atendezap/zapbridge/internal/config"
)

// unsetenv clears key for the duration of the test. t.Setenv registers the
// restore; the variable then has to be actually removed, since an empty
// DRY_RUN would fail envconfig's bool parsing instead of taking the default.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "DRY_RUN", "GRAPH_VERSION", "TENANT_REGISTRY_JSON"} {
		unsetenv(t, key)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want 3000", cfg.Port)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO", cfg.LogLevel)
	}
	if cfg.GraphVersion != "v22.0" {
		t.Errorf("GraphVersion = %q, want v22.0", cfg.GraphVersion)
	}
	if cfg.DryRun {
		t.Error("DryRun should default to false")
	}
}

func TestLoadDryRunDefaultsToDebug(t *testing.T) {
	unsetenv(t, "LOG_LEVEL")
	t.Setenv("DRY_RUN", "1")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DryRun {
		t.Error("DRY_RUN=1 should enable dry-run")
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q, want DEBUG in dry-run", cfg.LogLevel)
	}
}

func TestLoadTenantRegistry(t *testing.T) {
	t.Setenv("TENANT_REGISTRY_JSON", `{"879357005252665":"clientex"}`)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TenantRegistry["879357005252665"] != "clientex" {
		t.Errorf("TenantRegistry = %v, want clientex mapping", cfg.TenantRegistry)
	}

	t.Setenv("TENANT_REGISTRY_JSON", "{not json")
	if _, err := config.Load(); err == nil {
		t.Error("expected error for malformed TENANT_REGISTRY_JSON")
	}
}
