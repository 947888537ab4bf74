package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "work",
		SocketURL:      "wss://chat.example.com/socket",
		APIBaseURL:     "https://chat.example.com/api",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.SocketURL != "wss://chat.example.com/socket" {
		t.Errorf("SocketURL = %q", loaded.SocketURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultsMissing(t *testing.T) {
	cfg := LoadOrDefaults("/nonexistent/config.toml")
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main", cfg.DefaultSession)
	}
	if cfg.SocketURL == "" {
		t.Error("SocketURL should have a default")
	}
}

func TestLoadOrDefaultsPartial(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("socket_url = \"ws://custom:9000\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := LoadOrDefaults(path)
	if cfg.SocketURL != "ws://custom:9000" {
		t.Errorf("SocketURL = %q, want ws://custom:9000", cfg.SocketURL)
	}
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main (default kept)", cfg.DefaultSession)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
