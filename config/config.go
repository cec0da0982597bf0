package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Dedup     DedupConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the catalog store backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "postgres"
	URL    string `mapstructure:"url"`
}

// CacheConfig holds normalization cache configuration
type CacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	Entries int           `mapstructure:"entries"`
}

// EmbeddingConfig holds the model endpoints for the ensemble engine
type EmbeddingConfig struct {
	PrimaryURL     string        `mapstructure:"primary_url"`
	PrimaryModel   string        `mapstructure:"primary_model"`
	SecondaryURL   string        `mapstructure:"secondary_url"`
	SecondaryModel string        `mapstructure:"secondary_model"`
	Dimension      int           `mapstructure:"dimension"`
	EnableEnsemble bool          `mapstructure:"enable_ensemble"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// RequestsPerSecond caps outbound calls per model endpoint.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// MatchingConfig tunes the similarity matcher
type MatchingConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	MaxCandidates int     `mapstructure:"max_candidates"`
	Debug         bool    `mapstructure:"debug"`
}

// DedupConfig tunes the batch consolidation service
type DedupConfig struct {
	Threshold        float64 `mapstructure:"threshold"`
	StandardizeUnits bool    `mapstructure:"standardize_units"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/precofacil/")

	// Environment variable settings
	v.SetEnvPrefix("PRECOFACIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads a local .env file into the process environment.
// Existing variables are never overridden.
func loadEnvFile() error {
	file, err := os.Open(".env")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
	return scanner.Err()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults. The empty URL default registers the key so the
	// PRECOFACIL_DATABASE_URL environment variable reaches Unmarshal.
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")

	// Cache defaults
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.entries", 10000)

	// Embedding defaults. Model URLs default to empty for the same
	// environment-variable pickup as database.url; an empty URL leaves
	// that model slot unconfigured.
	v.SetDefault("embedding.primary_url", "")
	v.SetDefault("embedding.secondary_url", "")
	v.SetDefault("embedding.primary_model", "nomic-embed-text")
	v.SetDefault("embedding.secondary_model", "all-minilm")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.enable_ensemble", true)
	v.SetDefault("embedding.timeout", "5s")
	v.SetDefault("embedding.requests_per_second", 20)

	// Matching defaults
	v.SetDefault("matching.threshold", 0.75)
	v.SetDefault("matching.max_candidates", 1000)
	v.SetDefault("matching.debug", false)

	// Dedup defaults
	v.SetDefault("dedup.threshold", 0.80)
	v.SetDefault("dedup.standardize_units", true)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Database.Driver != "memory" && config.Database.Driver != "postgres" {
		return fmt.Errorf("database driver must be 'memory' or 'postgres', got: %s", config.Database.Driver)
	}

	if config.Database.Driver == "postgres" && config.Database.URL == "" {
		return fmt.Errorf("database URL is required when driver is 'postgres' (set PRECOFACIL_DATABASE_URL)")
	}

	if config.Matching.Threshold < 0 || config.Matching.Threshold > 1 {
		return fmt.Errorf("matching threshold must be between 0.0 and 1.0, got: %f", config.Matching.Threshold)
	}

	if config.Dedup.Threshold < 0 || config.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup threshold must be between 0.0 and 1.0, got: %f", config.Dedup.Threshold)
	}

	if config.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got: %d", config.Embedding.Dimension)
	}

	return nil
}
