package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.chitrasethu/chatd.toml.
type Config struct {
	// APIBaseURL is the marketplace persistence API root, e.g.
	// https://api.chitrasethu.com.
	APIBaseURL string `toml:"api_base_url"`
	// SocketURL is the realtime websocket endpoint, e.g.
	// wss://api.chitrasethu.com/socket.
	SocketURL string `toml:"socket_url"`
	// AuthToken is the bearer token for the persistence API and transport.
	AuthToken string `toml:"auth_token"`
	// UserID is the authenticated marketplace user id.
	UserID string `toml:"user_id"`
	// UserName is the display name sent with typing signals.
	UserName string `toml:"user_name"`

	// UploadMaxBytes caps attachment size. Zero means the default (25 MiB).
	UploadMaxBytes int64 `toml:"upload_max_bytes"`

	// TypingDebounceMs is the local idle window after the last keystroke
	// before stop-typing is emitted.
	TypingDebounceMs int `toml:"typing_debounce_ms"`
	// TypingExpiryMs is how long a remote typing signal stays visible
	// without a refresh.
	TypingExpiryMs int `toml:"typing_expiry_ms"`
	// SendTimeoutMs is how long an optimistic send waits for confirmation
	// before it is marked failed.
	SendTimeoutMs int `toml:"send_timeout_ms"`
}

// Defaults used when fields are absent from the config file.
const (
	DefaultUploadMaxBytes = 25 << 20
	DefaultTypingDebounce = 2000
	DefaultTypingExpiry   = 3000
	DefaultSendTimeout    = 10000
)

// Load reads config from the given path and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied and no endpoints set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.UploadMaxBytes <= 0 {
		c.UploadMaxBytes = DefaultUploadMaxBytes
	}
	if c.TypingDebounceMs <= 0 {
		c.TypingDebounceMs = DefaultTypingDebounce
	}
	if c.TypingExpiryMs <= 0 {
		c.TypingExpiryMs = DefaultTypingExpiry
	}
	if c.SendTimeoutMs <= 0 {
		c.SendTimeoutMs = DefaultSendTimeout
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
