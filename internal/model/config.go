package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`

	// File, when set, receives log output instead of stderr. The
	// dashboard owns the terminal, so `outreach run` always needs one.
	File string `mapstructure:"file" yaml:"file"`
}

// WorkerConfig tunes the delivery loop.
type WorkerConfig struct {
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1,max=500"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec" validate:"min=1"`
	ErrorBackoffSec int    `mapstructure:"error_backoff_sec" yaml:"error_backoff_sec" validate:"min=1"`
	StopTimeoutSec  int    `mapstructure:"stop_timeout_sec" yaml:"stop_timeout_sec" validate:"min=1"`
	MaxAttempts     int    `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	RecoverPolicy   string `mapstructure:"recover_policy" yaml:"recover_policy" validate:"oneof=requeue fail"`

	// RetryDelayMin is how long a failed step waits before it is queued
	// again. A step stops being retried after MaxAttempts failures.
	RetryDelayMin int `mapstructure:"retry_delay_min" yaml:"retry_delay_min" validate:"min=0"`
}

// InboxConfig controls mailbox scanning.
type InboxConfig struct {
	// ScanSchedule is a cron spec or descriptor such as "@every 60s".
	ScanSchedule       string   `mapstructure:"scan_schedule" yaml:"scan_schedule" validate:"required"`
	ReplyLookbackDays  int      `mapstructure:"reply_lookback_days" yaml:"reply_lookback_days" validate:"min=1"`
	ReplyFolder        string   `mapstructure:"reply_folder" yaml:"reply_folder" validate:"required"`
	UnsubscribeFolders []string `mapstructure:"unsubscribe_folders" yaml:"unsubscribe_folders" validate:"min=1"`
}

// TransportConfig describes how mail is sent and where the inbox lives.
type TransportConfig struct {
	Kind        string `mapstructure:"kind" yaml:"kind" validate:"oneof=smtp sendgrid"`
	IMAPHost    string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort    string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost    string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort    string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username    string `mapstructure:"username" yaml:"username"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	FromName    string `mapstructure:"from_name" yaml:"from_name"`
	FromAddress string `mapstructure:"from_address" yaml:"from_address" validate:"omitempty,email"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"min=1"`

	// AttachmentDir resolves relative step attachment paths.
	AttachmentDir string `mapstructure:"attachment_dir" yaml:"attachment_dir"`

	// TagSubject appends the campaign reference to outgoing subjects
	// that do not already carry it.
	TagSubject bool `mapstructure:"tag_subject" yaml:"tag_subject"`
}

// CampaignConfig holds campaign-wide defaults.
type CampaignConfig struct {
	ReferencePrefix string `mapstructure:"reference_prefix" yaml:"reference_prefix" validate:"required,alphanum,uppercase,max=10"`
	Timezone        string `mapstructure:"timezone" yaml:"timezone"`
}

// MetricsConfig enables the Prometheus listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Inbox     InboxConfig     `mapstructure:"inbox" yaml:"inbox"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Campaign  CampaignConfig  `mapstructure:"campaign" yaml:"campaign"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/outreach/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "outreach")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(configDir(), "outreach.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.poll_interval_sec", 5)
	v.SetDefault("worker.error_backoff_sec", 30)
	v.SetDefault("worker.stop_timeout_sec", 10)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.recover_policy", "requeue")
	v.SetDefault("worker.retry_delay_min", 15)

	v.SetDefault("inbox.scan_schedule", "@every 60s")
	v.SetDefault("inbox.reply_lookback_days", 30)
	v.SetDefault("inbox.reply_folder", "INBOX")
	v.SetDefault("inbox.unsubscribe_folders", []string{"INBOX"})

	v.SetDefault("transport.kind", "smtp")
	v.SetDefault("transport.imap_port", "993")
	v.SetDefault("transport.smtp_port", "587")
	v.SetDefault("transport.tls", true)
	v.SetDefault("transport.timeout_sec", 30)
	v.SetDefault("transport.tag_subject", true)

	v.SetDefault("campaign.reference_prefix", "ISIT")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults and OUTREACH_* environment
// variables still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration used when no file or
// environment overrides exist.
func DefaultConfig() *AppConfig {
	v := viper.New()
	setDefaults(v)

	cfg := &AppConfig{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate checks field constraints declared in struct tags.
func (c *AppConfig) Validate() error {
	return validator.New().Struct(c)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("log", cfg.Log)
	v.Set("worker", cfg.Worker)
	v.Set("inbox", cfg.Inbox)
	v.Set("transport", cfg.Transport)
	v.Set("campaign", cfg.Campaign)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
