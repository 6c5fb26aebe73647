package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
index:
  backend: flat
  ef_search: 64
  idle_ttl: 15m
extractor:
  kind: mock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Index.Backend != "flat" {
		t.Errorf("backend = %q, want flat", cfg.Index.Backend)
	}
	if cfg.Index.EfSearch != 64 {
		t.Errorf("ef_search = %d, want 64", cfg.Index.EfSearch)
	}
	if cfg.Index.IdleTTL != 15*time.Minute {
		t.Errorf("idle_ttl = %s, want 15m", cfg.Index.IdleTTL)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("data_dir should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
extractor:
  kind: mock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "./data/users"
  catalog_path: "./data/catalog.db"
watch:
  enabled: true
  root: "./uploads"
extractor:
  kind: mock
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "users"); cfg.Storage.DataDir != want {
		t.Errorf("data_dir = %s, want %s", cfg.Storage.DataDir, want)
	}
	if want := filepath.Join(dir, "data", "catalog.db"); cfg.Storage.CatalogPath != want {
		t.Errorf("catalog_path = %s, want %s", cfg.Storage.CatalogPath, want)
	}
	if want := filepath.Join(dir, "uploads"); cfg.Watch.Root != want {
		t.Errorf("watch root = %s, want %s", cfg.Watch.Root, want)
	}
}

func TestLoad_envOverridesAPIKey(t *testing.T) {
	t.Setenv("KIOKU_OPENAI_API_KEY", "sk-from-env")
	path := writeConfig(t, `
extractor:
  kind: openai
  api_key: sk-from-file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Extractor.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want env value", cfg.Extractor.APIKey)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "index:\n  backend: annoy\n"},
		{"unknown metric", "index:\n  metric: hamming\n"},
		{"unknown extractor", "extractor:\n  kind: clip-server\n"},
		{"default k above max", "index:\n  default_k: 50\n  max_k: 10\nextractor:\n  kind: mock\n"},
		{"watch without root", "watch:\n  enabled: true\nextractor:\n  kind: mock\n"},
		{"bad yaml", "index: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Index.DefaultDimension != 512 {
		t.Errorf("default dimension: got %d, want 512", cfg.Index.DefaultDimension)
	}
	if cfg.Index.M != 16 || cfg.Index.EfConstruction != 200 || cfg.Index.EfSearch != 50 {
		t.Errorf("hnsw params: got M=%d efC=%d efS=%d", cfg.Index.M, cfg.Index.EfConstruction, cfg.Index.EfSearch)
	}
	if cfg.Index.CaptionMaxTokens != 77 {
		t.Errorf("caption max tokens: got %d, want 77", cfg.Index.CaptionMaxTokens)
	}
	if cfg.Index.CaptionPlaceholder != "No annotation" {
		t.Errorf("caption placeholder: got %q", cfg.Index.CaptionPlaceholder)
	}
	if cfg.Extractor.Dimensions != cfg.Index.DefaultDimension {
		t.Errorf("extractor dimensions should follow index default, got %d", cfg.Extractor.Dimensions)
	}
	if len(cfg.Watch.Extensions) != 4 || cfg.Watch.Extensions[0] != ".jpg" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if cfg.Index.IdleTTL != 0 {
		t.Errorf("idle ttl should default to disabled, got %s", cfg.Index.IdleTTL)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:    ServerConfig{Host: "localhost", Port: 9090},
		Storage:   StorageConfig{DataDir: "/tmp/kioku"},
		Extractor: ExtractorConfig{Kind: "mock"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Storage.DataDir != "/tmp/kioku" {
		t.Errorf("loaded data_dir: got %s", loaded.Storage.DataDir)
	}
}
