package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Proxy.ListenAddr == "" {
		t.Fatal("expected a default listen address")
	}
	if cfg.Embedding.Dimension != 384 {
		t.Errorf("expected default dimension 384, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Router.RelevanceThreshold != 0.35 {
		t.Errorf("expected default relevance threshold 0.35, got %v", cfg.Router.RelevanceThreshold)
	}
	if cfg.Semantic.Enabled {
		t.Error("expected the entity graph to be disabled by default")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	os.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Proxy.UpstreamURL != Default().Proxy.UpstreamURL {
		t.Errorf("expected default upstream url, got %s", cfg.Proxy.UpstreamURL)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	contents := []byte(`
proxy:
  listen_addr: "0.0.0.0:9999"
  upstream_url: "https://api.anthropic.com"
embedding:
  dimension: 512
`)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.ListenAddr != "0.0.0.0:9999" {
		t.Errorf("expected overridden listen addr, got %s", cfg.Proxy.ListenAddr)
	}
	if cfg.Embedding.Dimension != 512 {
		t.Errorf("expected overridden dimension 512, got %d", cfg.Embedding.Dimension)
	}
	// Unset fields retain the defaults merged in before unmarshal.
	if cfg.Router.RelevanceThreshold != 0.35 {
		t.Errorf("expected default relevance threshold to survive, got %v", cfg.Router.RelevanceThreshold)
	}
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	defer os.Chdir(old)
	os.Chdir(dir)

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("proxy:\n  listen_addr: \"127.0.0.1:1111\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.ListenAddr != "127.0.0.1:1111" {
		t.Errorf("expected config.yaml in cwd to be picked up, got %s", cfg.Proxy.ListenAddr)
	}
}
