package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported publishing platforms
const (
	PlatformBluesky = "bluesky"
	PlatformTwitter = "twitter"
)

// DefaultPath is the config file looked up when no -config flag is given
const DefaultPath = "config.yaml"

// DefaultPostDelay applies when the config file has no post_delay key.
const DefaultPostDelay = 60 * time.Second

type Config struct {
	Platform string         `yaml:"platform"`
	DryRun   bool           `yaml:"dry_run"`
	Bluesky  BlueskyConfig  `yaml:"bluesky"`
	Twitter  TwitterConfig  `yaml:"twitter"`
	Files    FilesConfig    `yaml:"files"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
	State    StateConfig    `yaml:"state"`
	Archive  ArchiveConfig  `yaml:"archive"`
	SSM      SSMConfig      `yaml:"ssm"`
	Log      LogConfig      `yaml:"log"`
}

type BlueskyConfig struct {
	Host     string `yaml:"host"`
	Handle   string `yaml:"handle"`
	Password string `yaml:"password"`
}

type TwitterConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	AccessToken  string `yaml:"access_token"`
	AccessSecret string `yaml:"access_secret"`
}

// FilesConfig holds the flat files the bot reads from and writes to.
type FilesConfig struct {
	Posts       string `yaml:"posts"`
	Roster      string `yaml:"roster"`
	Images      string `yaml:"images"`
	OriginalLog string `yaml:"original_log"`
	ReplyLog    string `yaml:"reply_log"`
}

type ScheduleConfig struct {
	Quota     int           `yaml:"quota"`
	PostDelay time.Duration `yaml:"post_delay"`
	// Day is a robfig/cron expression for the day boundary, e.g. "@every 24h" or "0 9 * * *".
	Day string `yaml:"day"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type StateConfig struct {
	Path          string `yaml:"path"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	BotID         string `yaml:"bot_id"`
}

type ArchiveConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
}

type SSMConfig struct {
	Prefix string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML config at path, overlays .env and process environment
// variables and fills defaults. A missing file is only an error when the
// caller asked for a non-default path; otherwise the bot runs from the
// environment alone. Load does not validate; call Validate once secrets from
// SSM have been merged.
func Load(path string) (*Config, error) {
	// .env is optional
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	// zero is a valid post_delay, so its default goes in before decoding
	cfg := Config{Schedule: ScheduleConfig{PostDelay: DefaultPostDelay}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		// env-only configuration
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv overrides file values with environment variables when they are set.
func (c *Config) applyEnv() {
	setString(&c.Platform, "PLATFORM")
	setString(&c.Bluesky.Handle, "BLUESKY_HANDLE")
	setString(&c.Bluesky.Password, "BLUESKY_PASSWORD")
	setString(&c.Bluesky.Host, "BLUESKY_HOST")
	setString(&c.Twitter.APIKey, "TWITTER_API_KEY")
	setString(&c.Twitter.APISecret, "TWITTER_API_SECRET")
	setString(&c.Twitter.AccessToken, "TWITTER_ACCESS_TOKEN")
	setString(&c.Twitter.AccessSecret, "TWITTER_ACCESS_SECRET")
	setString(&c.Server.Port, "PORT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.SSM.Prefix, "SSM_PREFIX")

	if v := os.Getenv("DRY_RUN"); v != "" {
		c.DryRun = parseBoolWithDefault(v, c.DryRun)
	}
	if v := os.Getenv("POSTS_PER_DAY"); v != "" {
		c.Schedule.Quota = parseIntWithDefault(v, c.Schedule.Quota)
	}
}

func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformTwitter
	}
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	if c.Bluesky.Host == "" {
		c.Bluesky.Host = "https://bsky.social"
	}

	defaultString(&c.Files.Posts, "post.txt")
	defaultString(&c.Files.Roster, "influencers.txt")
	defaultString(&c.Files.Images, "images")
	defaultString(&c.Files.OriginalLog, "normal_posts.txt")
	defaultString(&c.Files.ReplyLog, "influencer_posts.txt")

	if c.Schedule.Quota == 0 {
		c.Schedule.Quota = 17
	}
	defaultString(&c.Schedule.Day, "@every 24h")

	defaultString(&c.Server.Port, "8080")
	defaultString(&c.State.Path, ".postbot-state.yaml")
	defaultString(&c.State.BotID, "postbot")
	defaultString(&c.Log.Level, "info")
	defaultString(&c.Log.Format, "text")
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	var problems []string

	if c.Platform != PlatformBluesky && c.Platform != PlatformTwitter {
		problems = append(problems, fmt.Sprintf("unknown platform %q", c.Platform))
	}
	if c.Schedule.Quota < 1 {
		problems = append(problems, "schedule.quota must be at least 1")
	}
	if c.Schedule.PostDelay < 0 {
		problems = append(problems, "schedule.post_delay must not be negative")
	}
	if _, err := cron.ParseStandard(c.Schedule.Day); err != nil {
		problems = append(problems, fmt.Sprintf("schedule.day: %v", err))
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		problems = append(problems, fmt.Sprintf("server.port %q is not a number", c.Server.Port))
	}

	// Credentials are not needed when nothing is actually posted
	if !c.DryRun {
		switch c.Platform {
		case PlatformBluesky:
			if c.Bluesky.Handle == "" || c.Bluesky.Handle == "your-handle.bsky.social" {
				problems = append(problems, "bluesky.handle is required")
			}
			if c.Bluesky.Password == "" || c.Bluesky.Password == "your-app-password" {
				problems = append(problems, "bluesky.password is required")
			}
		case PlatformTwitter:
			if c.Twitter.APIKey == "" || c.Twitter.APISecret == "" {
				problems = append(problems, "twitter.api_key and twitter.api_secret are required")
			}
			if c.Twitter.AccessToken == "" || c.Twitter.AccessSecret == "" {
				problems = append(problems, "twitter.access_token and twitter.access_secret are required")
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Message: "invalid configuration", Details: problems}
	}
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	// Try current directory first
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}

	// Try executable directory
	if exe, err := os.Executable(); err == nil {
		configPath := filepath.Join(filepath.Dir(exe), DefaultPath)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	return DefaultPath
}

// ValidationError represents a configuration error
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) > 0 {
		return e.Message + ": " + strings.Join(e.Details, "; ")
	}
	return e.Message
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func defaultString(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

// parseIntWithDefault parses an integer with a default value
func parseIntWithDefault(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// parseBoolWithDefault parses a boolean with a default value
func parseBoolWithDefault(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
