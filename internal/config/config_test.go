package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
log:
  level: "debug"

storage:
  aws_region: "eu-west-1"
  s3_bucket: "makerloom-files"
  public_base_url: "https://files.makerloom.com"
  designs_table: "designs"
  albums_table: "albums"
  recipients_table: "recipients"
  sequence_mode: "query"

converter:
  binary: "/opt/chartkit/convert"
  timeout_seconds: 120

pinboard:
  access_token: "test-token"
  boards_csv: "./boards.csv"
  default_board_id: "9911"

fleet:
  tag_key: "fleet"
  tag_value: "stitch-render"
  poll_interval_seconds: 2
  max_attempts: 10

campaign:
  sender: "Makerloom <hello@makerloom.com>"
  admin_email: "admin@makerloom.com"
  send_interval_ms: 250
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, "eu-west-1", cfg.Storage.AWSRegion)
	assert.Equal(t, "makerloom-files", cfg.Storage.S3Bucket)
	assert.Equal(t, "query", cfg.Storage.SequenceMode)
	assert.Equal(t, "designs", cfg.Storage.DesignsTable)

	assert.Equal(t, "/opt/chartkit/convert", cfg.Converter.Binary)
	assert.Equal(t, 120, cfg.Converter.TimeoutSeconds)

	assert.Equal(t, "test-token", cfg.Pinboard.AccessToken)
	assert.Equal(t, "9911", cfg.Pinboard.DefaultBoardID)

	assert.Equal(t, "fleet", cfg.Fleet.TagKey)
	assert.Equal(t, "stitch-render", cfg.Fleet.TagValue)
	assert.Equal(t, 2, cfg.Fleet.PollIntervalSeconds)
	assert.Equal(t, 10, cfg.Fleet.MaxAttempts)

	assert.Equal(t, "Makerloom <hello@makerloom.com>", cfg.Campaign.Sender)
	assert.Equal(t, 250, cfg.Campaign.SendIntervalMS)
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, `
storage:
  s3_bucket: "makerloom-files"
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "us-east-1", cfg.Storage.AWSRegion)
	assert.Equal(t, "counter", cfg.Storage.SequenceMode)
	assert.Equal(t, "stitchpress-designs", cfg.Storage.DesignsTable)
	assert.Equal(t, "https://api.pinterest.com/v5", cfg.Pinboard.BaseURL)
	assert.Equal(t, 30, cfg.Pinboard.TimeoutSeconds)
	assert.Equal(t, "role", cfg.Fleet.TagKey)
	assert.Equal(t, 5, cfg.Fleet.PollIntervalSeconds)
	assert.Equal(t, 60, cfg.Fleet.MaxAttempts)
	assert.Equal(t, "newsletter", cfg.Campaign.UTMSource)
	assert.Equal(t, "email", cfg.Campaign.UTMMedium)
	assert.Equal(t, 8085, cfg.Unsubscribe.Port)
	assert.Equal(t, 600, cfg.Redis.LockTTLSeconds)

	// Fleet region follows storage region unless set.
	assert.Equal(t, cfg.Storage.AWSRegion, cfg.Fleet.AWSRegion)
}

func TestLoadFromEnv(t *testing.T) {
	configPath := writeConfig(t, `
pinboard:
  access_token: "file-token"
campaign:
  unsubscribe_secret: "file-secret"
`)

	t.Setenv("PINBOARD_ACCESS_TOKEN", "env-token")
	t.Setenv("UNSUBSCRIBE_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "localhost:6390")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-token", cfg.Pinboard.AccessToken)
	assert.Equal(t, "env-secret", cfg.Campaign.UnsubscribeSecret)
	assert.Equal(t, "localhost:6390", cfg.Redis.Addr)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidatePublish(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.SequenceMode = "counter"
	cfg.Converter.Binary = "chartkit-convert"
	cfg.Pinboard.AccessToken = "tok"
	cfg.Pinboard.DefaultBoardID = "1234"

	err := cfg.ValidatePublish()
	var confErr *ConfigurationError
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "storage.s3_bucket", confErr.Setting)

	cfg.Storage.S3Bucket = "bucket"
	assert.NoError(t, cfg.ValidatePublish())

	cfg.Storage.SequenceMode = "bogus"
	err = cfg.ValidatePublish()
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "storage.sequence_mode", confErr.Setting)
}

func TestValidateCampaign(t *testing.T) {
	cfg := &Config{}
	cfg.Campaign.Sender = "Makerloom <hello@makerloom.com>"
	cfg.Campaign.UnsubscribeBaseURL = "https://makerloom.com/unsubscribe"
	cfg.Campaign.SiteBaseURL = "https://makerloom.com"

	err := cfg.ValidateCampaign()
	var confErr *ConfigurationError
	require.True(t, errors.As(err, &confErr))
	assert.Equal(t, "campaign.unsubscribe_secret", confErr.Setting)

	cfg.Campaign.UnsubscribeSecret = "s3cret"
	assert.NoError(t, cfg.ValidateCampaign())
}

func TestTimeout(t *testing.T) {
	cfg := PinboardConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*1000000000, int(cfg.Timeout().Nanoseconds()))
}

func TestPollInterval(t *testing.T) {
	cfg := FleetConfig{PollIntervalSeconds: 5}
	assert.Equal(t, 5*1000000000, int(cfg.PollInterval().Nanoseconds()))
}
