package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the publishing pipeline and its
// companion services.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Converter   ConverterConfig   `yaml:"converter"`
	Pinboard    PinboardConfig    `yaml:"pinboard"`
	Fleet       FleetConfig       `yaml:"fleet"`
	Campaign    CampaignConfig    `yaml:"campaign"`
	Unsubscribe UnsubscribeConfig `yaml:"unsubscribe"`
	Redis       RedisConfig       `yaml:"redis"`
}

// ConfigurationError reports a missing or invalid required setting.
// Configuration problems are fatal before anything with side effects runs.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Setting, e.Reason)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"` // nil means on
}

// StorageConfig holds the S3 bucket and DynamoDB tables backing the catalog.
type StorageConfig struct {
	AWSRegion       string `yaml:"aws_region"`
	AWSProfile      string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	S3Bucket        string `yaml:"s3_bucket"`
	PublicBaseURL   string `yaml:"public_base_url"` // e.g. https://files.makerloom.com
	DesignsTable    string `yaml:"designs_table"`
	AlbumsTable     string `yaml:"albums_table"`
	RecipientsTable string `yaml:"recipients_table"`
	CountersTable   string `yaml:"counters_table"`
	SequenceMode    string `yaml:"sequence_mode"` // "counter" or "query"
}

// GetAWSProfile returns the AWS profile, with environment variable override.
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// ConverterConfig holds the external PDF converter settings.
type ConverterConfig struct {
	Binary         string `yaml:"binary"`
	TimeoutSeconds int    `yaml:"timeout_seconds"` // 0 leaves the subprocess unbounded
}

// Timeout returns the configured timeout as a duration. Zero means none.
func (c ConverterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PinboardConfig holds pin platform API and board mapping settings.
type PinboardConfig struct {
	BaseURL          string `yaml:"base_url"`
	AccessToken      string `yaml:"access_token"`
	BoardsCSV        string `yaml:"boards_csv"`
	DefaultBoardID   string `yaml:"default_board_id"`
	AutoCreateBoards bool   `yaml:"auto_create_boards"`
	ShopBaseURL      string `yaml:"shop_base_url"` // destination links on pins, optional
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c PinboardConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FleetConfig holds the render fleet verification settings.
type FleetConfig struct {
	AWSRegion           string `yaml:"aws_region"`
	AWSProfile          string `yaml:"aws_profile"`
	TagKey              string `yaml:"tag_key"`
	TagValue            string `yaml:"tag_value"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxAttempts         int    `yaml:"max_attempts"`
}

// PollInterval returns the delay between health poll attempts.
func (c FleetConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CampaignConfig holds email campaign settings. SES credentials may be left
// empty to use the default credential chain.
type CampaignConfig struct {
	Region             string `yaml:"region"`
	AccessKey          string `yaml:"access_key"`
	SecretKey          string `yaml:"secret_key"`
	Sender             string `yaml:"sender"` // "Makerloom <hello@makerloom.com>"
	AdminEmail         string `yaml:"admin_email"`
	SiteBaseURL        string `yaml:"site_base_url"`
	UnsubscribeBaseURL string `yaml:"unsubscribe_base_url"`
	UnsubscribeSecret  string `yaml:"unsubscribe_secret"`
	UTMSource          string `yaml:"utm_source"`
	UTMMedium          string `yaml:"utm_medium"`
	SubjectTemplate    string `yaml:"subject_template"`
	TemplatePath       string `yaml:"template_path"`
	SendIntervalMS     int    `yaml:"send_interval_ms"` // self-imposed pause between sends
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c CampaignConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendInterval returns the pause between consecutive sends.
func (c CampaignConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMS) * time.Millisecond
}

// UnsubscribeConfig holds the unsubscribe HTTP service settings.
type UnsubscribeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GetHost returns the listen host, with ECS detection.
func (c UnsubscribeConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// RedisConfig holds the optional publish lock backend. An empty addr runs
// the pipeline without a lock.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the publish lock expiry.
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Storage.SequenceMode == "" {
		cfg.Storage.SequenceMode = "counter"
	}
	if cfg.Storage.DesignsTable == "" {
		cfg.Storage.DesignsTable = "stitchpress-designs"
	}
	if cfg.Storage.AlbumsTable == "" {
		cfg.Storage.AlbumsTable = "stitchpress-albums"
	}
	if cfg.Storage.RecipientsTable == "" {
		cfg.Storage.RecipientsTable = "stitchpress-recipients"
	}
	if cfg.Storage.CountersTable == "" {
		cfg.Storage.CountersTable = "stitchpress-counters"
	}
	if cfg.Converter.Binary == "" {
		cfg.Converter.Binary = "chartkit-convert"
	}
	if cfg.Pinboard.BaseURL == "" {
		cfg.Pinboard.BaseURL = "https://api.pinterest.com/v5"
	}
	if cfg.Pinboard.TimeoutSeconds == 0 {
		cfg.Pinboard.TimeoutSeconds = 30
	}
	if cfg.Fleet.AWSRegion == "" {
		cfg.Fleet.AWSRegion = cfg.Storage.AWSRegion
	}
	if cfg.Fleet.TagKey == "" {
		cfg.Fleet.TagKey = "role"
	}
	if cfg.Fleet.TagValue == "" {
		cfg.Fleet.TagValue = "render-worker"
	}
	if cfg.Fleet.PollIntervalSeconds == 0 {
		cfg.Fleet.PollIntervalSeconds = 5
	}
	if cfg.Fleet.MaxAttempts == 0 {
		cfg.Fleet.MaxAttempts = 60
	}
	if cfg.Campaign.Region == "" {
		cfg.Campaign.Region = "us-west-2"
	}
	if cfg.Campaign.TimeoutSeconds == 0 {
		cfg.Campaign.TimeoutSeconds = 30
	}
	if cfg.Campaign.UTMSource == "" {
		cfg.Campaign.UTMSource = "newsletter"
	}
	if cfg.Campaign.UTMMedium == "" {
		cfg.Campaign.UTMMedium = "email"
	}
	if cfg.Campaign.SubjectTemplate == "" {
		cfg.Campaign.SubjectTemplate = `New cross-stitch design: {{ title }}`
	}
	if cfg.Unsubscribe.Port == 0 {
		cfg.Unsubscribe.Port = 8085
	}
	if cfg.Unsubscribe.Host == "" {
		cfg.Unsubscribe.Host = "localhost"
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 600
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("PINBOARD_ACCESS_TOKEN"); v != "" {
		cfg.Pinboard.AccessToken = v
	}
	if v := os.Getenv("PINBOARD_BASE_URL"); v != "" {
		cfg.Pinboard.BaseURL = v
	}
	if v := os.Getenv("UNSUBSCRIBE_SECRET"); v != "" {
		cfg.Campaign.UnsubscribeSecret = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Campaign.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Campaign.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Campaign.Region = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CONVERTER_BINARY"); v != "" {
		cfg.Converter.Binary = v
	}

	return cfg, nil
}

// ValidatePublish checks everything the publish pipeline needs before it
// touches external services.
func (c *Config) ValidatePublish() error {
	if c.Storage.S3Bucket == "" {
		return &ConfigurationError{Setting: "storage.s3_bucket", Reason: "required for artifact uploads"}
	}
	if c.Converter.Binary == "" {
		return &ConfigurationError{Setting: "converter.binary", Reason: "path to the kit converter executable is required"}
	}
	if c.Pinboard.AccessToken == "" {
		return &ConfigurationError{Setting: "pinboard.access_token", Reason: "set it or export PINBOARD_ACCESS_TOKEN"}
	}
	if c.Pinboard.BoardsCSV == "" && c.Pinboard.DefaultBoardID == "" {
		return &ConfigurationError{Setting: "pinboard.boards_csv", Reason: "need a board mapping CSV or a default_board_id"}
	}
	if mode := c.Storage.SequenceMode; mode != "counter" && mode != "query" {
		return &ConfigurationError{Setting: "storage.sequence_mode", Reason: fmt.Sprintf("must be counter or query, got %q", mode)}
	}
	return nil
}

// ValidateCampaign checks everything a campaign run needs.
func (c *Config) ValidateCampaign() error {
	if c.Campaign.Sender == "" {
		return &ConfigurationError{Setting: "campaign.sender", Reason: "sender address is required"}
	}
	if c.Campaign.UnsubscribeSecret == "" {
		return &ConfigurationError{Setting: "campaign.unsubscribe_secret", Reason: "set it or export UNSUBSCRIBE_SECRET"}
	}
	if c.Campaign.UnsubscribeBaseURL == "" {
		return &ConfigurationError{Setting: "campaign.unsubscribe_base_url", Reason: "recipients need a working unsubscribe link"}
	}
	if c.Campaign.SiteBaseURL == "" {
		return &ConfigurationError{Setting: "campaign.site_base_url", Reason: "campaign mail links back to the shop"}
	}
	return nil
}

// ValidateUnsubscribe checks everything the unsubscribe service needs.
func (c *Config) ValidateUnsubscribe() error {
	if c.Campaign.UnsubscribeSecret == "" {
		return &ConfigurationError{Setting: "campaign.unsubscribe_secret", Reason: "set it or export UNSUBSCRIBE_SECRET"}
	}
	return nil
}
