package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.gomess/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	API    APIConfig    `toml:"api"`
	Socket SocketConfig `toml:"socket"`
	Chat   ChatConfig   `toml:"chat"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL        string   `toml:"base_url"`
	RequestTimeout duration `toml:"request_timeout"`
	// RefreshMaxAttempts bounds the 401-refresh-retry loop per request.
	RefreshMaxAttempts int `toml:"refresh_max_attempts"`
}

// SocketConfig configures the push stream client.
type SocketConfig struct {
	URL             string   `toml:"url"`
	PingInterval    duration `toml:"ping_interval"`
	ReconnectMaxInt duration `toml:"reconnect_max_interval"`
}

// ChatConfig tunes the synchronization core.
type ChatConfig struct {
	PageSize int `toml:"page_size"`
}

// duration wraps time.Duration for TOML decoding of "30s"-style strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "default",
		API: APIConfig{
			BaseURL:            "http://localhost:4000/api/v1",
			RequestTimeout:     duration{15 * time.Second},
			RefreshMaxAttempts: 1,
		},
		Socket: SocketConfig{
			URL:             "ws://localhost:4000/socket",
			PingInterval:    duration{30 * time.Second},
			ReconnectMaxInt: duration{time.Minute},
		},
		Chat: ChatConfig{
			PageSize: 50,
		},
	}
}

// Load reads config from the given path, applying defaults for missing
// fields. Returns defaults and the error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return Default(), err
	}
	if cfg.Chat.PageSize <= 0 {
		cfg.Chat.PageSize = 50
	}
	return cfg, nil
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

// APITimeout returns the configured request timeout.
func (c *Config) APITimeout() time.Duration { return c.API.RequestTimeout.Duration }

// PingInterval returns the configured socket keepalive interval.
func (c *Config) PingInterval() time.Duration { return c.Socket.PingInterval.Duration }

// ReconnectMaxInterval caps the socket reconnect backoff.
func (c *Config) ReconnectMaxInterval() time.Duration { return c.Socket.ReconnectMaxInt.Duration }
