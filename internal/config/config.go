package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
// A .env file in the working directory is loaded first when present.
type Config struct {
	DatabaseURL string

	KafkaBrokers      []string
	KafkaTriggerTopic string
	KafkaGroupID      string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Alert feed.
	AlertFeedURL     string
	AlertFeedTimeout time.Duration
	AlertCacheSize   int
	AlertCacheTTL    time.Duration

	// Report feed.
	ReportFeedURL      string
	ReportFeedTimeout  time.Duration
	ReportLookbackDays int

	// Matching.
	MatchTolerance  time.Duration
	VerifyThreshold float64

	// Dispatch.
	WebhookSecret       string
	DeliveryTimeout     time.Duration
	DeliveryMaxAttempts int
	DispatchWorkers     int
}

// Load reads configuration from the environment, applying defaults where
// unset and validating the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTriggerTopic: sharedcfg.EnvOrDefault("KAFKA_TRIGGER_TOPIC", "notification-triggers"),
		KafkaGroupID:      sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "storm-watch-dispatch"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		AlertFeedURL:  sharedcfg.EnvOrDefault("ALERT_FEED_URL", "https://api.weather.gov/alerts/active"),
		ReportFeedURL: sharedcfg.EnvOrDefault("REPORT_FEED_URL", "https://www.spc.noaa.gov/climo/reports"),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}

	if cfg.AlertFeedTimeout, err = envDuration("ALERT_FEED_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.AlertCacheTTL, err = envDuration("ALERT_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReportFeedTimeout, err = envDuration("REPORT_FEED_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.MatchTolerance, err = envDuration("MATCH_TOLERANCE", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = envDuration("DELIVERY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.AlertCacheSize, err = envInt("ALERT_CACHE_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.ReportLookbackDays, err = envInt("REPORT_LOOKBACK_DAYS", 15); err != nil {
		return nil, err
	}
	if cfg.DeliveryMaxAttempts, err = envInt("DELIVERY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.DispatchWorkers, err = envInt("DISPATCH_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.VerifyThreshold, err = envFloat("VERIFY_THRESHOLD", 0.6); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaTriggerTopic == "" {
		return errors.New("KAFKA_TRIGGER_TOPIC is required")
	}
	if c.AlertFeedURL == "" {
		return errors.New("ALERT_FEED_URL is required")
	}
	if c.ReportFeedURL == "" {
		return errors.New("REPORT_FEED_URL is required")
	}
	if c.ReportLookbackDays < 0 || c.ReportLookbackDays > 15 {
		return errors.New("REPORT_LOOKBACK_DAYS must be between 0 and 15")
	}
	if c.VerifyThreshold < 0 || c.VerifyThreshold > 1 {
		return errors.New("VERIFY_THRESHOLD must be between 0 and 1")
	}
	if c.DeliveryMaxAttempts < 1 {
		return errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1")
	}
	if c.DispatchWorkers < 1 {
		return errors.New("DISPATCH_WORKERS must be at least 1")
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}
