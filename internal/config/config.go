// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig locates the delayed task queues. Empty Addr selects the
// in-memory queues (single-process mode).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DispatchConfig governs the submission workers.
type DispatchConfig struct {
	Workers        int           `mapstructure:"workers"`
	BatchSize      int           `mapstructure:"batch_size"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RetryMax       time.Duration `mapstructure:"retry_max"`
	ChannelTimeout time.Duration `mapstructure:"channel_timeout"`
	PreCheck       bool          `mapstructure:"pre_check"`
}

// VerifyConfig governs the verification poller. Verification runs strictly
// serialized, so there is no worker count here.
type VerifyConfig struct {
	CheckTimeout        time.Duration `mapstructure:"check_timeout"`
	CustomSearchAPIKey  string        `mapstructure:"custom_search_api_key"`
	CustomSearchCSEID   string        `mapstructure:"custom_search_cse_id"`
	DefaultGSCProperty  string        `mapstructure:"default_gsc_property"`
	FreshWindow         time.Duration `mapstructure:"fresh_window"`
	RecheckHoldoff      time.Duration `mapstructure:"recheck_holdoff"`
	VerificationWindow  time.Duration `mapstructure:"verification_window"`
	SweepBatchSize      int           `mapstructure:"sweep_batch_size"`
	// NotificationTopic overrides pubsub.topic_name for indexed events.
	NotificationTopic string `mapstructure:"notification_topic"`
	NotificationEnabled bool          `mapstructure:"notification_enabled"`
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	IndexNowKey         string  `mapstructure:"indexnow_key"`
	IndexNowEndpoint    string  `mapstructure:"indexnow_endpoint"`
	PingomaticEndpoint  string  `mapstructure:"pingomatic_endpoint"`
	WebSubHub           string  `mapstructure:"websub_hub"`
	ArchiveEndpoint     string  `mapstructure:"archive_endpoint"`
	CooldownPerDomain   float64 `mapstructure:"cooldown_per_domain"`
	CooldownBurst       int     `mapstructure:"cooldown_burst"`
	SitemapBaseURL      string  `mapstructure:"sitemap_base_url"`
	SitemapPingEndpoint string  `mapstructure:"sitemap_ping_endpoint"`
	SitemapEnabled      bool    `mapstructure:"sitemap_enabled"`
	IndexingAPIDisabled bool    `mapstructure:"indexing_api_disabled"`
}

// SchedulerConfig holds the cron expressions for the background sweeps.
type SchedulerConfig struct {
	QuotaReset    string `mapstructure:"quota_reset"`
	ProcessQueue  string `mapstructure:"process_queue"`
	SweepPending  string `mapstructure:"sweep_pending"`
	FreshCheck    string `mapstructure:"fresh_check"`
	StagedCheck   string `mapstructure:"staged_check"`
	RecreditSweep string `mapstructure:"recredit_sweep"`
}

// StorageConfig selects the blob provider for sitemaps and export snapshots.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // gcs, local or memory
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.lock_ttl", 2*time.Minute)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.retry_base", 5*time.Minute)
	v.SetDefault("dispatch.retry_max", time.Hour)
	v.SetDefault("dispatch.channel_timeout", 15*time.Second)
	v.SetDefault("dispatch.pre_check", true)

	v.SetDefault("verify.check_timeout", 30*time.Second)
	v.SetDefault("verify.fresh_window", 6*time.Hour)
	v.SetDefault("verify.recheck_holdoff", 50*time.Minute)
	v.SetDefault("verify.verification_window", 14*24*time.Hour)
	v.SetDefault("verify.sweep_batch_size", 200)
	v.SetDefault("pubsub.topic_name", "address-indexed")

	v.SetDefault("channels.indexnow_endpoint", "https://api.indexnow.org/indexnow")
	v.SetDefault("channels.pingomatic_endpoint", "http://rpc.pingomatic.com/")
	v.SetDefault("channels.websub_hub", "https://pubsubhubbub.appspot.com/")
	v.SetDefault("channels.archive_endpoint", "https://web.archive.org/save/")
	v.SetDefault("channels.sitemap_ping_endpoint", "https://www.google.com/ping?sitemap=")
	v.SetDefault("channels.cooldown_per_domain", 0.5)
	v.SetDefault("channels.cooldown_burst", 1)

	v.SetDefault("scheduler.quota_reset", "0 0 * * *")
	v.SetDefault("scheduler.process_queue", "*/2 * * * *")
	v.SetDefault("scheduler.sweep_pending", "*/5 * * * *")
	v.SetDefault("scheduler.fresh_check", "0 * * * *")
	v.SetDefault("scheduler.staged_check", "30 1 * * *")
	v.SetDefault("scheduler.recredit_sweep", "0 2 * * *")

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "artifacts")
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.enabled requires auth.api_key")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be positive")
	}
	if c.Verify.VerificationWindow <= 0 {
		return fmt.Errorf("verify.verification_window must be positive")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.provider is gcs but storage.gcs_bucket is not set")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.provider is local but storage.local_dir is not set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	return nil
}
