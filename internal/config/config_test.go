package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("queryforge-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Bindings.Path != "bindings.yaml" {
		t.Fatalf("Bindings.Path = %q", cfg.Bindings.Path)
	}
	if cfg.Executor.PoolSize != 4 {
		t.Fatalf("Executor.PoolSize = %d", cfg.Executor.PoolSize)
	}
	if cfg.Executor.QueryTimeout != 30*time.Second {
		t.Fatalf("Executor.QueryTimeout = %v", cfg.Executor.QueryTimeout)
	}
	if cfg.Audit.Enabled {
		t.Fatal("Audit.Enabled should default to false in dev")
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.AI.ParseEnabled {
		t.Fatal("AI.ParseEnabled should default to false")
	}
	if cfg.AI.Model != "gpt-5" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYFORGE_PROFILE": "prod"})
	cfg, err := Load("queryforge-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
	if !cfg.Audit.Enabled {
		t.Fatal("Audit.Enabled should default to true in prod")
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYFORGE_HTTP_ADDR":              ":9090",
		"QUERYFORGE_BINDINGS_PATH":          "/etc/queryforge/bindings.yaml",
		"QUERYFORGE_EXECUTOR_DATASET":       "inventory",
		"QUERYFORGE_EXECUTOR_POOL_SIZE":     "8",
		"QUERYFORGE_EXECUTOR_QUERY_TIMEOUT": "45s",
		"QUERYFORGE_AUDIT_ENABLED":          "true",
		"QUERYFORGE_AUTH_REQUIRED":          "true",
		"QUERYFORGE_AUTH_STATIC_KEYS":       "key-a:analytics:query_runner",
		"QUERYFORGE_LOG_LEVEL":              "warn",
		"QUERYFORGE_LOG_JSON":               "false",
	})
	cfg, err := Load("queryforge-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9090" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Bindings.Path != "/etc/queryforge/bindings.yaml" {
		t.Fatalf("Bindings.Path = %q", cfg.Bindings.Path)
	}
	if cfg.Executor.Dataset != "inventory" {
		t.Fatalf("Executor.Dataset = %q", cfg.Executor.Dataset)
	}
	if cfg.Executor.PoolSize != 8 {
		t.Fatalf("Executor.PoolSize = %d", cfg.Executor.PoolSize)
	}
	if cfg.Executor.QueryTimeout != 45*time.Second {
		t.Fatalf("Executor.QueryTimeout = %v", cfg.Executor.QueryTimeout)
	}
	if !cfg.Audit.Enabled {
		t.Fatal("Audit.Enabled override not applied")
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required override not applied")
	}
	if cfg.Auth.StaticKeys != "key-a:analytics:query_runner" {
		t.Fatalf("Auth.StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON override not applied")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]string
	}{
		{"bad profile", map[string]string{"QUERYFORGE_PROFILE": "staging"}},
		{"bad duration", map[string]string{"QUERYFORGE_EXECUTOR_QUERY_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"QUERYFORGE_AUDIT_ENABLED": "yep"}},
		{"bad int", map[string]string{"QUERYFORGE_EXECUTOR_POOL_SIZE": "many"}},
		{"bad log level", map[string]string{"QUERYFORGE_LOG_LEVEL": "verbose"}},
		{"zero pool size", map[string]string{"QUERYFORGE_EXECUTOR_POOL_SIZE": "0"}},
		{"empty bindings path", map[string]string{"QUERYFORGE_BINDINGS_PATH": " "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load("queryforge-api", mapLookup(tc.values)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("queryforge-api", nil); err == nil {
		t.Fatal("expected error")
	}
}
