package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)

	content := `source: /data/tree
mount: /mnt/mirror
log_level: DEBUG
watch:
  - path startsWith "/docs"
  - path endsWith ".txt"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source != "/data/tree" {
		t.Errorf("Expected source %q, got %q", "/data/tree", cfg.Source)
	}
	if cfg.Mount != "/mnt/mirror" {
		t.Errorf("Expected mount %q, got %q", "/mnt/mirror", cfg.Mount)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("Expected log level DEBUG, got %q", cfg.LogLevel)
	}
	if len(cfg.Watch) != 2 {
		t.Fatalf("Expected 2 watch expressions, got %d", len(cfg.Watch))
	}
	if cfg.Watch[0] != `path startsWith "/docs"` {
		t.Errorf("Unexpected watch expression: %q", cfg.Watch[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("source: [unterminated"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected a parse error for invalid YAML")
	}
}
