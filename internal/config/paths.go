package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chitrasethu.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chitrasethu")
}

// ProfileDir returns the profile-specific directory.
func ProfileDir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// SocketPath returns the UDS socket path the daemon serves the UI on.
func SocketPath(profile string) string {
	return filepath.Join(ProfileDir(profile), "chatd.sock")
}

// CacheDBPath returns the local conversation cache path.
func CacheDBPath(profile string) string {
	return filepath.Join(ProfileDir(profile), "chat.db")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(ProfileDir(profile), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "chatd.log")
}

// Path returns the global config file path.
func Path() string {
	return filepath.Join(BaseDir(), "chatd.toml")
}

// EnsureProfileDir creates the profile directory tree with proper permissions.
func EnsureProfileDir(profile string) error {
	dirs := []string{
		ProfileDir(profile),
		LogDir(profile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
