package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Default()
	cfg.Engine.ShortfallPolicy = "liquidate"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown shortfall policy")
	}
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	cfg := Default()
	cfg.Postgres.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[http]
addr = ":9090"

[engine]
shortfall_policy = "draw"

[persistence]
batch_size = 200
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http addr = %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.Engine.ShortfallPolicy != "draw" {
		t.Errorf("shortfall policy = %q, want draw", cfg.Engine.ShortfallPolicy)
	}
	if cfg.Persistence.BatchSize != 200 {
		t.Errorf("batch size = %d, want 200", cfg.Persistence.BatchSize)
	}
	// Untouched sections keep defaults.
	if cfg.NATS.URL != Default().NATS.URL {
		t.Errorf("nats url = %q, want default", cfg.NATS.URL)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[http]\naddr = \":9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COFFEE_HTTP_ADDR", ":7070")
	t.Setenv("COFFEE_PERSIST_BATCH_SIZE", "77")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("http addr = %q, want :7070", cfg.HTTP.Addr)
	}
	if cfg.Persistence.BatchSize != 77 {
		t.Errorf("batch size = %d, want 77", cfg.Persistence.BatchSize)
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not toml = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
