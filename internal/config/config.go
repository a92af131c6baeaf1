package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "WPSYNC"
	defaultDatabasePath         = "wpsync.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "console"
	defaultMaxAttempts          = 3
	defaultInitialDelay         = 2 * time.Second
	defaultBackoffMultiplier    = 2.0
	defaultHTTPTimeout          = 15 * time.Second
	defaultWorkers              = 3
	defaultMaxItems             = 5
	defaultMaxImages            = 5
	defaultLedgerErrorThreshold = 3
	defaultServerAddress        = "127.0.0.1:8080"
	defaultTokenTTL             = 30 * time.Minute
	defaultUserAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

// AppConfig captures runtime configuration for the importer and its status API.
type AppConfig struct {
	DatabasePath         string
	LogLevel             string
	LogFormat            string
	MaxAttempts          int
	InitialDelay         time.Duration
	BackoffMultiplier    float64
	HTTPTimeout          time.Duration
	UserAgent            string
	ProxyEndpoints       []string
	Workers              int
	MaxItems             int
	MaxImages            int
	ImportImages         bool
	DetectChanges        bool
	FeedURL              string
	LedgerErrorThreshold int
	ServerAddress        string
	SigningSecret        string
	TokenTTL             time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("retry.max_attempts", defaultMaxAttempts)
	configViper.SetDefault("retry.initial_delay", defaultInitialDelay)
	configViper.SetDefault("retry.backoff_multiplier", defaultBackoffMultiplier)
	configViper.SetDefault("http.timeout", defaultHTTPTimeout)
	configViper.SetDefault("http.user_agent", defaultUserAgent)
	configViper.SetDefault("proxy.endpoints", []string{})
	configViper.SetDefault("sync.workers", defaultWorkers)
	configViper.SetDefault("sync.max_items", defaultMaxItems)
	configViper.SetDefault("sync.max_images", defaultMaxImages)
	configViper.SetDefault("sync.import_images", true)
	configViper.SetDefault("sync.detect_changes", true)
	configViper.SetDefault("feed.url", "")
	configViper.SetDefault("sync.ledger_error_threshold", defaultLedgerErrorThreshold)
	configViper.SetDefault("server.address", defaultServerAddress)
	configViper.SetDefault("server.token_ttl", defaultTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		MaxAttempts:          configViper.GetInt("retry.max_attempts"),
		InitialDelay:         configViper.GetDuration("retry.initial_delay"),
		BackoffMultiplier:    configViper.GetFloat64("retry.backoff_multiplier"),
		HTTPTimeout:          configViper.GetDuration("http.timeout"),
		UserAgent:            configViper.GetString("http.user_agent"),
		ProxyEndpoints:       splitEndpoints(configViper.GetStringSlice("proxy.endpoints")),
		Workers:              configViper.GetInt("sync.workers"),
		MaxItems:             configViper.GetInt("sync.max_items"),
		MaxImages:            configViper.GetInt("sync.max_images"),
		ImportImages:         configViper.GetBool("sync.import_images"),
		DetectChanges:        configViper.GetBool("sync.detect_changes"),
		FeedURL:              strings.TrimSpace(configViper.GetString("feed.url")),
		LedgerErrorThreshold: configViper.GetInt("sync.ledger_error_threshold"),
		ServerAddress:        configViper.GetString("server.address"),
		SigningSecret:        configViper.GetString("server.signing_secret"),
		TokenTTL:             configViper.GetDuration("server.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.MaxItems < 0 || c.MaxImages < 0 {
		return fmt.Errorf("sync.max_items and sync.max_images must not be negative")
	}
	return nil
}

// splitEndpoints accepts both list values from config files and comma separated env values.
func splitEndpoints(raw []string) []string {
	endpoints := make([]string, 0, len(raw))
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				endpoints = append(endpoints, trimmed)
			}
		}
	}
	return endpoints
}
