// Package config loads the application configuration from a JSON file and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
)

// Config represents the application configuration.
type Config struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins"`

	// Storage is one of memory, file, sqlite or postgres.
	Storage     string `json:"storage"`
	DSN         string `json:"dsn"`
	DatabaseURL string `json:"DATABASE_URL"`

	CatalogDir string  `json:"catalog_dir"`
	ImageDir   string  `json:"image_dir"`
	Threshold  float64 `json:"fuzzy_threshold"`

	PrefetchBaseURL string  `json:"prefetch_base_url"`
	PrefetchDir     string  `json:"prefetch_dir"`
	PrefetchRPS     float64 `json:"prefetch_rps"`

	Debug bool `json:"debug"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Addr:            ":8080",
		CORSOrigins:     []string{"http://localhost:8081"},
		Storage:         "file",
		DSN:             "data",
		CatalogDir:      "recipes",
		ImageDir:        "images",
		Threshold:       0.4,
		PrefetchBaseURL: "http://localhost:8080",
		PrefetchDir:     "offline",
		PrefetchRPS:     5,
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MIXBOOK_STORAGE"); v != "" {
		c.Storage = v
	}
	if v := os.Getenv("MIXBOOK_DSN"); v != "" {
		c.DSN = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("MIXBOOK_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("MIXBOOK_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MIXBOOK_DEBUG: %w", err)
		}
		c.Debug = debug
	}
	return nil
}

// StorageDSN returns the data source for the configured storage driver.
// Postgres falls back to DATABASE_URL.
func (c Config) StorageDSN() string {
	if c.Storage == "postgres" && c.DSN == "" {
		return c.DatabaseURL
	}
	return c.DSN
}

// Validate checks the fields that have a fixed set of values.
func (c Config) Validate() error {
	switch c.Storage {
	case "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage)
	}
	if c.Storage == "postgres" && c.StorageDSN() == "" {
		return errors.New("postgres storage requires dsn or DATABASE_URL")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be between 0 and 1, got %v", c.Threshold)
	}
	return nil
}
