package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chatd.toml")

	cfg := &Config{
		APIBaseURL: "https://api.example.com",
		SocketURL:  "wss://api.example.com/socket",
		AuthToken:  "tok",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.APIBaseURL != "https://api.example.com" {
		t.Errorf("APIBaseURL = %q", loaded.APIBaseURL)
	}
	if loaded.SocketURL != "wss://api.example.com/socket" {
		t.Errorf("SocketURL = %q", loaded.SocketURL)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chatd.toml")
	if err := Save(path, &Config{APIBaseURL: "https://api.example.com"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UploadMaxBytes != DefaultUploadMaxBytes {
		t.Errorf("UploadMaxBytes = %d, want %d", cfg.UploadMaxBytes, DefaultUploadMaxBytes)
	}
	if cfg.TypingDebounceMs != DefaultTypingDebounce {
		t.Errorf("TypingDebounceMs = %d, want %d", cfg.TypingDebounceMs, DefaultTypingDebounce)
	}
	if cfg.TypingExpiryMs != DefaultTypingExpiry {
		t.Errorf("TypingExpiryMs = %d, want %d", cfg.TypingExpiryMs, DefaultTypingExpiry)
	}
	if cfg.SendTimeoutMs != DefaultSendTimeout {
		t.Errorf("SendTimeoutMs = %d, want %d", cfg.SendTimeoutMs, DefaultSendTimeout)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/chatd.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chatd.toml")

	if err := Save(path, Default()); err != nil {
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
