package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Backend selector values.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config represents a profile's config.toml.
type Config struct {
	DefaultProfile   string `toml:"default_profile"`
	Backend          string `toml:"backend"`
	UserID           string `toml:"user_id"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	TypingQuietMS    int    `toml:"typing_quiet_ms"`

	Remote Remote `toml:"remote"`
}

// Remote holds the hosted backend settings. Unused when backend is
// "local".
type Remote struct {
	DatabaseDSN string `toml:"database_dsn"`
	RealtimeURL string `toml:"realtime_url"`
	AuthURL     string `toml:"auth_url"`
	Handle      string `toml:"handle"`
	Password    string `toml:"password"`

	S3Region    string `toml:"s3_region"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
	S3PublicURL string `toml:"s3_public_url"`
}

// Default returns the config used when no file exists yet.
func Default() *Config {
	return &Config{
		Backend:          BackendLocal,
		HeartbeatSeconds: 30,
		TypingQuietMS:    2000,
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
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

func (c *Config) validate() error {
	switch c.Backend {
	case BackendLocal, BackendRemote:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("heartbeat_seconds must be positive, got %d", c.HeartbeatSeconds)
	}
	if c.TypingQuietMS <= 0 {
		return fmt.Errorf("typing_quiet_ms must be positive, got %d", c.TypingQuietMS)
	}
	return nil
}
