package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	App       AppConfig       `yaml:"app"`
	Feed      FeedConfig      `yaml:"feed"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Formatter FormatterConfig `yaml:"formatter"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

// FeedConfig describes the upstream listing endpoint.
type FeedConfig struct {
	URL                 string        `yaml:"url" validate:"required,url"`
	ListKey             string        `yaml:"list_key" validate:"required"`
	Timeout             time.Duration `yaml:"timeout" validate:"gt=0"`
	UserAgent           string        `yaml:"user_agent"`
	AllowPoolIDFallback bool          `yaml:"allow_pool_id_fallback"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

type TelegramConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIURL         string        `yaml:"api_url" validate:"required,url"`
	Token          string        `yaml:"token" validate:"required_if=Enabled true"`
	ChatID         string        `yaml:"chat_id" validate:"required_if=Enabled true"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	RatePerSecond  float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst          int           `yaml:"burst" validate:"gte=0"`
	StartupMessage bool          `yaml:"startup_message"`
}

type FormatterConfig struct {
	PlatformName   string `yaml:"platform_name"`
	PlatformURL    string `yaml:"platform_url"`
	ExplorerURL    string `yaml:"explorer_url"`
	BuyURLTemplate string `yaml:"buy_url_template"`
	BuyButtonText  string `yaml:"buy_button_text"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver" validate:"oneof=postgres mysql file memory"`
	DSN    string      `yaml:"dsn"`
	Path   string      `yaml:"path"`
	Cache  CacheConfig `yaml:"cache"`
}

type CacheConfig struct {
	MaxKeys int64 `yaml:"max_keys" validate:"gt=0"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	TokensLimit     int           `yaml:"tokens_limit"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// KafkaConfig controls publishing of announcements to a Kafka topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `yaml:"topic" validate:"required_if=Enabled true"`
}

// ArchiveConfig controls the S3 archive of announced listings.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format" validate:"oneof=json text"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns the configuration used when a file leaves fields unset.
func Default() Config {
	return Config{
		App: AppConfig{Name: "launchwatch", Version: "dev"},
		Feed: FeedConfig{
			URL:             "https://api.blast.fun/pools",
			ListKey:         "pools",
			Timeout:         15 * time.Second,
			UserAgent:       "launchwatch/1.0",
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
		Monitor: MonitorConfig{Interval: 15 * time.Second},
		Telegram: TelegramConfig{
			Enabled:        true,
			APIURL:         "https://api.telegram.org",
			Timeout:        30 * time.Second,
			RatePerSecond:  1,
			Burst:          1,
			StartupMessage: true,
		},
		Formatter: FormatterConfig{
			PlatformName:   "Blast.fun",
			PlatformURL:    "https://blast.fun",
			ExplorerURL:    "https://suiscan.xyz/mainnet/account/",
			BuyURLTemplate: "https://t.me/RaidenXTradeBot?start=Blastn_sw_%s",
			BuyButtonText:  "🚀 BUY TOKEN",
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data/announcements.json",
			Cache:  CacheConfig{MaxKeys: 100000},
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
			TokensLimit:     50,
		},
		Metrics: MetricsConfig{Prometheus: true},
		Archive: ArchiveConfig{Prefix: "announcements"},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: time.Minute,
		},
	}
}

// LoadConfig reads path on top of Default, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	path = ResolvePath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func applyEnv(config *Config) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&config.Telegram.Token, "TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	set(&config.Telegram.ChatID, "CHAT_ID", "TELEGRAM_CHAT_ID")
	set(&config.Storage.DSN, "DATABASE_URL")
	set(&config.Feed.URL, "FEED_URL")
	set(&config.Archive.Bucket, "S3_BUCKET")
	set(&config.Archive.Region, "AWS_REGION")
	set(&config.Metrics.CloudWatch.Region, "AWS_REGION")

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		config.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				config.Kafka.Brokers = append(config.Kafka.Brokers, b)
			}
		}
	}

	config.Archive.Bucket = strings.TrimSpace(config.Archive.Bucket)
}

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	switch cfg.Storage.Driver {
	case "postgres", "mysql":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", cfg.Storage.Driver)
		}
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver file")
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when the archive is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.Bucket) {
			return fmt.Errorf("archive.bucket '%s' is invalid", cfg.Archive.Bucket)
		}
	}

	if IsProductionLike(AppEnvironment()) && cfg.Storage.Driver == "memory" {
		return fmt.Errorf("storage.driver memory is not allowed in %s", AppEnvironment())
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
