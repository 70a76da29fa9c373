package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Source    Source    `yaml:"source"`
	Store     Store     `yaml:"store"`
	Migration Migration `yaml:"migration"`
	Server    Server    `yaml:"server"`
	LogLevel  string    `yaml:"log_level"`
}

// Source represents the remote content listing endpoint configuration
type Source struct {
	APIURL         string `yaml:"api_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Store represents the S3-compatible object store configuration
type Store struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
}

// Migration represents migration-specific configuration
type Migration struct {
	MaxRecords   int    `yaml:"max_records"`
	KeyPrefix    string `yaml:"key_prefix"`
	Ledger       string `yaml:"ledger"`
	LegacyLedger string `yaml:"legacy_ledger"`
	YtdlpPath    string `yaml:"ytdlp_path"`
	CookiesFile  string `yaml:"cookies_file"`
	TempDir      string `yaml:"temp_dir"`
}

// Server represents the control surface HTTP server configuration
type Server struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from file, environment, and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	// .env is optional, matching the original deployment layout
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: "info",
		Source: Source{
			TimeoutSeconds: 30,
		},
		Store: Store{
			Endpoint: "s3.amazonaws.com",
			Region:   "us-east-1",
			Secure:   true,
		},
		Migration: Migration{
			KeyPrefix:    "videos/",
			Ledger:       "./ledger.db",
			LegacyLedger: "uploaded_videos.json",
			YtdlpPath:    "yt-dlp",
		},
		Server: Server{
			Addr: ":5000",
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("WORDPRESS_API_URL"); v != "" {
		cfg.Source.APIURL = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Store.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Store.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Store.SecretKey = v
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		cfg.Store.Bucket = v
	}
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("api-url") {
		cfg.Source.APIURL, _ = flags.GetString("api-url")
	}
	if flags.Changed("endpoint") {
		cfg.Store.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("region") {
		cfg.Store.Region, _ = flags.GetString("region")
	}
	if flags.Changed("access-key") {
		cfg.Store.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Store.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("secure") {
		cfg.Store.Secure, _ = flags.GetBool("secure")
	}
	if flags.Changed("bucket") {
		cfg.Store.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("max-records") {
		cfg.Migration.MaxRecords, _ = flags.GetInt("max-records")
	}
	if flags.Changed("key-prefix") {
		cfg.Migration.KeyPrefix, _ = flags.GetString("key-prefix")
	}
	if flags.Changed("ledger") {
		cfg.Migration.Ledger, _ = flags.GetString("ledger")
	}
	if flags.Changed("ytdlp-path") {
		cfg.Migration.YtdlpPath, _ = flags.GetString("ytdlp-path")
	}
	if flags.Changed("cookies-file") {
		cfg.Migration.CookiesFile, _ = flags.GetString("cookies-file")
	}
	if flags.Changed("listen") {
		cfg.Server.Addr, _ = flags.GetString("listen")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Source.APIURL == "" {
		return fmt.Errorf("source api_url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}

	if c.Store.Endpoint == "" {
		return fmt.Errorf("store endpoint is required")
	}
	if c.Store.AccessKey == "" {
		return fmt.Errorf("store access key is required")
	}
	if c.Store.SecretKey == "" {
		return fmt.Errorf("store secret key is required")
	}
	if c.Store.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if c.Migration.MaxRecords < 0 {
		return fmt.Errorf("max records cannot be negative")
	}
	if c.Migration.Ledger == "" {
		return fmt.Errorf("ledger path is required")
	}

	return nil
}
