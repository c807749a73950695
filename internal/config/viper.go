package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// WebhookDestination mirrors one configured third-party endpoint.
type WebhookDestination struct {
	Name   string `mapstructure:"name" yaml:"name"`
	URL    string `mapstructure:"url" yaml:"url"`
	Secret string `mapstructure:"secret" yaml:"-"`
	APIKey string `mapstructure:"api_key" yaml:"-"`
	Active bool   `mapstructure:"active" yaml:"active"`
}

// Config represents the complete application configuration
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	DB struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"db" yaml:"db"`

	Registry struct {
		ProvidersFile string `mapstructure:"providers_file" yaml:"providers_file"`
	} `mapstructure:"registry" yaml:"registry"`

	Sync struct {
		Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
		APIKey          string `mapstructure:"api_key" yaml:"-"` // Never serialize API key
		MaxRetry        int    `mapstructure:"max_retry" yaml:"max_retry"`
		TimeoutSeconds  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
		IntervalMinutes int    `mapstructure:"interval_minutes" yaml:"interval_minutes"`
	} `mapstructure:"sync" yaml:"sync"`

	AI struct {
		Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
		Model          string `mapstructure:"model" yaml:"model"`
		APIKey         string `mapstructure:"api_key" yaml:"-"` // Never serialize API key
		TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	} `mapstructure:"ai" yaml:"ai"`

	Country string `mapstructure:"country" yaml:"country"`

	Webhooks []WebhookDestination `mapstructure:"webhooks" yaml:"webhooks"`
}

// InitializeConfig initializes Viper configuration with hierarchical loading
func InitializeConfig() (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Config file locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.smspipe")
	v.AddConfigPath(".smspipe")
	v.AddConfigPath(".")

	// 3. Environment variables
	v.SetEnvPrefix("SMSPIPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 4. Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: error reading config file %s: %v\n", v.ConfigFileUsed(), err)
		}
		// Config file not found or invalid is OK, we'll use defaults and env vars
	}

	// 5. API keys always come from the environment, unprefixed
	if err := v.BindEnv("ai.api_key", "GEMINI_API_KEY"); err != nil {
		fmt.Printf("Warning: failed to bind GEMINI_API_KEY environment variable: %v\n", err)
	}
	if err := v.BindEnv("sync.api_key", "SMSPIPE_SYNC_API_KEY"); err != nil {
		fmt.Printf("Warning: failed to bind SMSPIPE_SYNC_API_KEY environment variable: %v\n", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 6. Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Storage defaults
	v.SetDefault("db.path", "smspipe.db")

	// Registry defaults
	v.SetDefault("registry.providers_file", "providers.yaml")

	// Sync defaults
	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.max_retry", 3)
	v.SetDefault("sync.timeout_seconds", 30)
	v.SetDefault("sync.interval_minutes", 15)

	// AI defaults
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout_seconds", 30)

	// Country defaults to Rwanda, the first deployment market
	v.SetDefault("country", "RW")
}

// validateConfig validates the configuration values
func validateConfig(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	// Validate log format
	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", config.Log.Format)
	}

	if config.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}

	if config.Sync.MaxRetry < 1 || config.Sync.MaxRetry > 10 {
		return fmt.Errorf("sync.max_retry must be between 1 and 10, got: %d", config.Sync.MaxRetry)
	}

	if config.Sync.TimeoutSeconds < 1 || config.Sync.TimeoutSeconds > 300 {
		return fmt.Errorf("sync.timeout_seconds must be between 1 and 300, got: %d", config.Sync.TimeoutSeconds)
	}

	// Validate AI configuration
	if config.AI.Enabled {
		if config.AI.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY required when AI is enabled")
		}
		if config.AI.TimeoutSeconds < 1 || config.AI.TimeoutSeconds > 300 {
			return fmt.Errorf("ai.timeout_seconds must be between 1 and 300, got: %d", config.AI.TimeoutSeconds)
		}
	}

	for i, wh := range config.Webhooks {
		if wh.Name == "" || wh.URL == "" {
			return fmt.Errorf("webhook %d must have a name and url", i)
		}
	}

	return nil
}

// ConfigureLoggingFromConfig configures logging based on the Config struct
func ConfigureLoggingFromConfig(config *Config) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(config.Log.Level))
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", config.Log.Level)
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.ToLower(config.Log.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
