package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.pigeon/config.toml.
type Config struct {
	// DefaultSession is the session used when --session is not given.
	DefaultSession string `toml:"default_session"`
	// SocketURL is the websocket endpoint of the chat server.
	SocketURL string `toml:"socket_url"`
	// APIBaseURL is the HTTP base URL for login/register.
	APIBaseURL string `toml:"api_base_url"`
	// MediaUploadURL is the endpoint that accepts file uploads and
	// returns a stable URL for the stored object.
	MediaUploadURL string `toml:"media_upload_url"`
}

// Defaults returns the config used when no config.toml exists yet.
func Defaults() *Config {
	return &Config{
		DefaultSession: "main",
		SocketURL:      "ws://localhost:4000/socket",
		APIBaseURL:     "http://localhost:3000",
		MediaUploadURL: "http://localhost:3000/api/upload",
	}
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefaults reads config from path, falling back to Defaults on a
// missing file. Values absent from the file keep their defaults.
func LoadOrDefaults(path string) *Config {
	cfg := Defaults()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Defaults()
	}
	return cfg
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
