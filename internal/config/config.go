package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. It is loaded once at startup
// and passed explicitly to constructors; nothing reads the environment after
// Load returns.
type Config struct {
	ConfigName string `envconfig:"CONFIG_NAME" default:"dev"`
	Port       string `envconfig:"PORT" default:"3000"`
	LogLevel   string `envconfig:"LOG_LEVEL"`

	// Meta / WhatsApp Cloud API
	VerifyToken   string `envconfig:"VERIFY_TOKEN"`
	WhatsAppToken string `envconfig:"WHATSAPP_TOKEN"`
	PhoneNumberID string `envconfig:"PHONE_NUMBER_ID"`
	GraphVersion  string `envconfig:"GRAPH_VERSION" default:"v22.0"`

	// DRY_RUN=1 disables real Graph API calls.
	DryRun bool `envconfig:"DRY_RUN"`

	// Storage
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/app.db"`
	RedisURL   string `envconfig:"REDIS_URL"`

	// Optional static token required on /send when set.
	InternalSendToken string `envconfig:"INTERNAL_SEND_TOKEN"`

	// JSON map of phone_number_id -> automation name.
	TenantRegistryJSON string `envconfig:"TENANT_REGISTRY_JSON"`

	// Parsed form of TenantRegistryJSON.
	TenantRegistry map[string]string `ignored:"true"`
}

// Load reads .env (if present) plus the process environment and returns a
// populated Config.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment variables: %w", err)
	}

	if cfg.LogLevel == "" {
		if cfg.DryRun {
			cfg.LogLevel = "DEBUG"
		} else {
			cfg.LogLevel = "INFO"
		}
	}

	cfg.TenantRegistry = map[string]string{}
	if cfg.TenantRegistryJSON != "" {
		if err := json.Unmarshal([]byte(cfg.TenantRegistryJSON), &cfg.TenantRegistry); err != nil {
			return nil, fmt.Errorf("invalid TENANT_REGISTRY_JSON: %w", err)
		}
	}

	return cfg, nil
}
