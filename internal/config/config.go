package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// global configuration structure
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Plans    PlansConfig    `mapstructure:"plans"`
}

// HTTP server and webhook intake configuration
type ServerConfig struct {
	ListenPort  string `mapstructure:"listen_port"`
	WebhookPath string `mapstructure:"webhook_path"`
	CertFile    string `mapstructure:"cert_file"`
	KeyFile     string `mapstructure:"key_file"`
	// AppSecret signs inbound webhook bodies (HMAC-SHA256).
	AppSecret string `mapstructure:"app_secret"`
	// VerifyToken answers the platform's subscription handshake.
	VerifyToken string `mapstructure:"verify_token"`
	// TriggerToken guards the internal drain/introspection endpoints.
	TriggerToken string `mapstructure:"trigger_token"`
}

// logging configuration
type LoggerConfig struct {
	Directory string            `mapstructure:"directory"`
	Rotation  LogRotationConfig `mapstructure:"rotation"`
	Level     string            `mapstructure:"level"`
}

// log rotation settings
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Charset  string `mapstructure:"charset"`
}

// optional read-shadow cache for resolved policies and queue stats;
// never the source of truth for quota counts
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// tunables for the ingest/drain pipeline
type PipelineConfig struct {
	// InlineThreshold bounds how many events one ingestion call handles
	// synchronously before parking the rest for batch draining.
	InlineThreshold int `mapstructure:"inline_threshold"`
	// SchedulerBatchSize caps due queue entries per run, split evenly
	// across channels.
	SchedulerBatchSize int           `mapstructure:"scheduler_batch_size"`
	SchedulerInterval  time.Duration `mapstructure:"scheduler_interval"`
	SchedulerBudget    time.Duration `mapstructure:"scheduler_budget"`
	DrainerFetchCap    int           `mapstructure:"drainer_fetch_cap"`
	DrainerSubBatch    int           `mapstructure:"drainer_sub_batch"`
	DrainerPause       time.Duration `mapstructure:"drainer_pause"`
	DrainerInterval    time.Duration `mapstructure:"drainer_interval"`
	DrainerBudget      time.Duration `mapstructure:"drainer_budget"`
	DeliveryTimeout    time.Duration `mapstructure:"delivery_timeout"`
	RescheduleJitter   time.Duration `mapstructure:"reschedule_jitter"`
	QueueRetention     time.Duration `mapstructure:"queue_retention"`
	EventRetention     time.Duration `mapstructure:"event_retention"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	PlatformAPIBase    string        `mapstructure:"platform_api_base"`
}

// per-tier send quotas; channels are limited independently
type PlanTier struct {
	DirectMessagesPerHour  int `mapstructure:"direct_messages_per_hour"`
	DirectMessagesPerMonth int `mapstructure:"direct_messages_per_month"`
	CommentRepliesPerHour  int `mapstructure:"comment_replies_per_hour"`
	CommentRepliesPerMonth int `mapstructure:"comment_replies_per_month"`
}

type PlansConfig struct {
	DefaultTier string              `mapstructure:"default_tier"`
	Tiers       map[string]PlanTier `mapstructure:"tiers"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	log.Printf("Using config file: %s", v.ConfigFileUsed())

	// Unmarshal configuration
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}

func Get() *Config {
	if cfg == nil {
		log.Fatal("Configuration not initialized, call Load() first")
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_port", "8443")
	v.SetDefault("server.webhook_path", "/webhook")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	v.SetDefault("logger.directory", "logs")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)
	v.SetDefault("logger.level", "INFO")

	v.SetDefault("pipeline.inline_threshold", 5)
	v.SetDefault("pipeline.scheduler_batch_size", 100)
	v.SetDefault("pipeline.scheduler_interval", 30*time.Second)
	v.SetDefault("pipeline.scheduler_budget", 25*time.Second)
	v.SetDefault("pipeline.drainer_fetch_cap", 2000)
	v.SetDefault("pipeline.drainer_sub_batch", 25)
	v.SetDefault("pipeline.drainer_pause", 2*time.Second)
	v.SetDefault("pipeline.drainer_interval", 5*time.Minute)
	v.SetDefault("pipeline.drainer_budget", 4*time.Minute)
	v.SetDefault("pipeline.delivery_timeout", 10*time.Second)
	v.SetDefault("pipeline.reschedule_jitter", 5*time.Minute)
	v.SetDefault("pipeline.queue_retention", 30*24*time.Hour)
	v.SetDefault("pipeline.event_retention", 7*24*time.Hour)
	v.SetDefault("pipeline.sweep_interval", 6*time.Hour)
	v.SetDefault("pipeline.platform_api_base", "https://graph.example.com/v1")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("plans.default_tier", "free")
	v.SetDefault("plans.tiers.free.direct_messages_per_hour", 20)
	v.SetDefault("plans.tiers.free.direct_messages_per_month", 1000)
	v.SetDefault("plans.tiers.free.comment_replies_per_hour", 60)
	v.SetDefault("plans.tiers.free.comment_replies_per_month", 5000)
	v.SetDefault("plans.tiers.pro.direct_messages_per_hour", 100)
	v.SetDefault("plans.tiers.pro.direct_messages_per_month", 20000)
	v.SetDefault("plans.tiers.pro.comment_replies_per_hour", 300)
	v.SetDefault("plans.tiers.pro.comment_replies_per_month", 50000)
}
