// Package config resolves client configuration from, in increasing
// precedence: defaults, an optional YAML file, a local .env file, and
// COACHCHAT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything the client needs to reach the backend.
type Config struct {
	ServerURL         string `yaml:"server_url"`
	UploadURL         string `yaml:"upload_url"`
	UploadFallbackURL string `yaml:"upload_fallback_url"`
	Role              string `yaml:"role"`
	StudentCode       string `yaml:"student_code"`
	Channel           string `yaml:"channel"`
	DataDir           string `yaml:"data_dir"`
	DBPath            string `yaml:"db_path"`
	TokenPath         string `yaml:"token_path"`
	MetricsAddr       string `yaml:"metrics_addr"`
}

// Load builds the effective configuration. path may be empty, in which
// case the default config file location is tried and silently skipped
// when absent.
func Load(path string) (*Config, error) {
	// A .env next to the working directory is a convenience for
	// development; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Role:    "student",
		Channel: "support",
	}

	if path == "" {
		path = os.Getenv("COACHCHAT_CONFIG")
	}
	if path == "" {
		path = filepath.Join(DefaultDataDir(), "config.yaml")
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "coachchat.db")
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = filepath.Join(cfg.DataDir, "token")
	}
	cfg.Role = strings.ToLower(cfg.Role)
	cfg.Channel = strings.ToLower(cfg.Channel)
	return cfg, nil
}

// Validate checks the fields no default can supply.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required (or COACHCHAT_SERVER)")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("server_url must be a ws:// or wss:// URL, got %q", c.ServerURL)
	}
	switch c.Role {
	case "student", "coach", "support":
	default:
		return fmt.Errorf("role must be student, coach, or support, got %q", c.Role)
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"COACHCHAT_SERVER":          &cfg.ServerURL,
		"COACHCHAT_UPLOAD_URL":      &cfg.UploadURL,
		"COACHCHAT_UPLOAD_FALLBACK": &cfg.UploadFallbackURL,
		"COACHCHAT_ROLE":            &cfg.Role,
		"COACHCHAT_STUDENT_CODE":    &cfg.StudentCode,
		"COACHCHAT_CHANNEL":         &cfg.Channel,
		"COACHCHAT_DATA_DIR":        &cfg.DataDir,
		"COACHCHAT_DB_PATH":         &cfg.DBPath,
		"COACHCHAT_TOKEN_PATH":      &cfg.TokenPath,
		"COACHCHAT_METRICS_ADDR":    &cfg.MetricsAddr,
	}
	for key, target := range overrides {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}
}

// DefaultDataDir returns a per-user data path for the SQLite file, the
// token, and the default config location.
func DefaultDataDir() string {
	if env := os.Getenv("COACHCHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "coachchat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Coachchat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Coachchat")
		}
		return filepath.Join(home, ".local", "share", "coachchat")
	}
	return filepath.Join(".", ".coachchat")
}
