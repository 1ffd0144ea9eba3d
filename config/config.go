// Package config loads the service configuration: environment variables for
// the ambient pieces, a YAML file for the carrier fleet.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SMTP configures the policy mail sender.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config is the environment-driven part of the service configuration.
type Config struct {
	Env         string
	Addr        string
	DatabaseURL string

	// token cache backend: "memory" or "redis"
	CacheKind string
	RedisAddr string
	RedisDB   int

	PDFDir       string
	CarriersFile string

	UserDirURL   string
	NumberingURL string
	UWExportURL  string

	SMTP SMTP
}

// Production reports whether the service runs against live carriers.
func (c Config) Production() bool {
	return c.Env == "prod" || c.Env == "production"
}

// Load reads the configuration from the environment. Only the database URL
// is mandatory.
func Load() (Config, error) {
	cfg := Config{
		Env:          envOr("APP_ENV", "dev"),
		Addr:         envOr("ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		CacheKind:    envOr("TOKEN_CACHE", "memory"),
		RedisAddr:    envOr("REDIS_ADDR", "localhost:6379"),
		PDFDir:       envOr("PDF_CACHE_DIR", "/tmp/polisflow-pdf"),
		CarriersFile: envOr("CARRIERS_FILE", "carriers.yaml"),
		UserDirURL:   os.Getenv("USERDIR_URL"),
		NumberingURL: os.Getenv("NUMBERING_URL"),
		UWExportURL:  os.Getenv("UWEXPORT_URL"),
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     envOr("SMTP_FROM", "noreply@polisflow.local"),
		},
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = envInt("SMTP_PORT", 587); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// Carrier describes one carrier backend in the fleet file. Kind selects the
// driver archetype; the remaining fields are archetype-specific.
type Carrier struct {
	Code string `yaml:"code"`
	// rest | soap | async
	Kind    string        `yaml:"kind"`
	Timeout time.Duration `yaml:"timeout"`

	// rest + async
	BaseURL string `yaml:"base_url"`

	// rest
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// soap
	Endpoint         string        `yaml:"endpoint"`
	StatusEndpoint   string        `yaml:"status_endpoint"`
	Login            string        `yaml:"login"`
	Password         string        `yaml:"password"`
	NumberIterations int           `yaml:"number_iterations"`
	PollGrace        time.Duration `yaml:"poll_grace"`
	PollInterval     time.Duration `yaml:"poll_interval"`

	// async
	APIKey    string `yaml:"api_key"`
	DocMarker string `yaml:"doc_marker"`

	// soap + async
	PayFormURL string `yaml:"pay_form_url"`
}

// LoadCarriers reads the carrier fleet from the YAML file at path.
func LoadCarriers(path string) ([]Carrier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read carriers file: %w", err)
	}

	var doc struct {
		Carriers []Carrier `yaml:"carriers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse carriers file: %w", err)
	}
	for i, c := range doc.Carriers {
		if c.Code == "" {
			return nil, fmt.Errorf("config: carrier %d has no code", i)
		}
		switch c.Kind {
		case "rest", "soap", "async":
		default:
			return nil, fmt.Errorf("config: carrier %s: unknown kind %q", c.Code, c.Kind)
		}
	}
	return doc.Carriers, nil
}
