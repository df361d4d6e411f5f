// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/labgate/resultsync/internal/collector"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig           `mapstructure:"server"`
	Auth        AuthConfig             `mapstructure:"auth"`
	Gateway     GatewayConfig          `mapstructure:"gateway"`
	Sync        SyncConfig             `mapstructure:"sync"`
	Fetch       FetchConfig            `mapstructure:"fetch"`
	DB          DBConfig               `mapstructure:"db"`
	Encryption  EncryptionConfig       `mapstructure:"encryption"`
	Backup      BackupConfig           `mapstructure:"backup"`
	Telegram    TelegramConfig         `mapstructure:"telegram"`
	PubSub      PubSubConfig           `mapstructure:"pubsub"`
	Audit       AuditConfig            `mapstructure:"audit"`
	Departments []collector.Department `mapstructure:"departments"`
	Logging     LoggingConfig          `mapstructure:"logging"`
	Debug       DebugConfig            `mapstructure:"debug"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GatewayConfig locates the upstream medical record gateway.
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConnections int    `mapstructure:"max_connections"`
	PageSize       int    `mapstructure:"page_size"`
}

// SyncConfig governs orchestrator runs.
type SyncConfig struct {
	CronSchedule      string `mapstructure:"cron_schedule"`
	OverlapDays       int    `mapstructure:"overlap_days"`
	DayPauseSeconds   int    `mapstructure:"day_pause_seconds"`
	RetryDelayMinutes int    `mapstructure:"retry_delay_minutes"`
	MaxAttempts       uint   `mapstructure:"max_attempts"`
}

// FetchConfig governs the concurrent detail-fetch stage.
type FetchConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	CompletionPolicy  string `mapstructure:"completion_policy"`
	MaxAttempts       uint   `mapstructure:"max_attempts"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	EmptyMaxAttempts  int    `mapstructure:"empty_max_attempts"`
	EmptyRetrySeconds int    `mapstructure:"empty_retry_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`
	MaxConns  int    `mapstructure:"max_conns"`
	MinConns  int    `mapstructure:"min_conns"`
}

// EncryptionConfig enables at-rest encryption of result content.
type EncryptionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Key     string `mapstructure:"key"`
}

// BackupConfig drives the post-run database dump.
type BackupConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Database  string `mapstructure:"database"`
	Dir       string `mapstructure:"dir"`
	Filename  string `mapstructure:"filename"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// TelegramConfig holds bot credentials for human notifications.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AuditConfig tunes the post-run result content audit.
type AuditConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	MinResultLength int `mapstructure:"min_result_length"`
	MaxProblems     int `mapstructure:"max_problems"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DebugConfig controls local diagnostic artifacts.
type DebugConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESULTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("gateway.endpoint", "/api")
	v.SetDefault("gateway.user_agent", "resultsync/0.1")
	v.SetDefault("gateway.timeout_seconds", 30)
	v.SetDefault("gateway.max_connections", 30)
	v.SetDefault("gateway.page_size", 100)
	v.SetDefault("sync.cron_schedule", "0 6 * * *")
	v.SetDefault("sync.overlap_days", 2)
	v.SetDefault("sync.day_pause_seconds", 1)
	v.SetDefault("sync.retry_delay_minutes", 30)
	v.SetDefault("sync.max_attempts", 8)
	v.SetDefault("fetch.concurrency", 30)
	v.SetDefault("fetch.completion_policy", "fail_fast")
	v.SetDefault("fetch.max_attempts", 5)
	v.SetDefault("fetch.retry_delay_seconds", 2)
	v.SetDefault("fetch.empty_max_attempts", 5)
	v.SetDefault("fetch.empty_retry_seconds", 2)
	v.SetDefault("db.table", "test_results")
	v.SetDefault("db.batch_size", 500)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("backup.port", 5432)
	v.SetDefault("backup.dir", "dumps")
	v.SetDefault("backup.filename", "daily_latest.dump")
	v.SetDefault("audit.batch_size", 1000)
	v.SetDefault("audit.min_result_length", 5)
	v.SetDefault("audit.max_problems", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("debug.dir", "debug")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url must be set")
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("gateway.timeout_seconds must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if len(c.Departments) == 0 {
		return fmt.Errorf("departments must list at least one department")
	}
	for i, d := range c.Departments {
		if d.ID == "" || d.Prefix == "" {
			return fmt.Errorf("departments[%d] needs both id and prefix", i)
		}
	}
	switch c.Fetch.CompletionPolicy {
	case "fail_fast", "best_effort":
	default:
		return fmt.Errorf("fetch.completion_policy must be fail_fast or best_effort")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Encryption.Enabled && c.Encryption.Key == "" {
		return fmt.Errorf("encryption.key must be set when encryption is enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set when telegram is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Backup.Enabled && c.Backup.Database == "" {
		return fmt.Errorf("backup.database must be set when backup is enabled")
	}
	return nil
}

// GatewayTimeout converts the configured timeout into a duration.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// DayPause converts the per-day pacing delay into a duration.
func (c Config) DayPause() time.Duration {
	return time.Duration(c.Sync.DayPauseSeconds) * time.Second
}

// RetryDelay converts the failed-run retry delay into a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Sync.RetryDelayMinutes) * time.Minute
}
