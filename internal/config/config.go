package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Preferences are the user flags that gate core behavior. They mirror the
// settings panel: disabling read receipts suppresses receipt emission,
// disabling typing indicators silences both directions of typing signals.
type Preferences struct {
	TypingIndicators bool `toml:"typing_indicators"`
	ReadReceipts     bool `toml:"read_receipts"`
	Notifications    bool `toml:"notifications"`
}

// Credentials hold the bearer token and identity for the session lifetime.
type Credentials struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
}

// Config represents the global ~/.beep/config.toml.
type Config struct {
	DefaultProfile string      `toml:"default_profile"`
	APIURL         string      `toml:"api_url"`
	ChannelURL     string      `toml:"channel_url"`
	Credentials    Credentials `toml:"credentials"`
	Preferences    Preferences `toml:"preferences"`
}

// Default returns the config used when no file exists yet.
func Default() *Config {
	return &Config{
		APIURL:     "http://localhost:3000/api",
		ChannelURL: "ws://localhost:3000/ws",
		Preferences: Preferences{
			TypingIndicators: true,
			ReadReceipts:     true,
			Notifications:    true,
		},
	}
}

// Load reads config from the given path. Keys absent from the file keep their
// Default values, so preference flags default to enabled. Returns an error if
// the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file holds a bearer credential, so it is written 0600.
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
