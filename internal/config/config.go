package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrationsPath string

	// Optional backends; empty disables them.
	RedisURL     string
	AMQPURL      string
	AMQPExchange string

	// Cycle schedules (robfig/cron specs, "@every 5m" style accepted)
	CheckSchedule      string
	DeliverySchedule   string
	CleanupSchedule    string
	AggregatorSchedule string

	// Item monitor
	BatchSize      int
	BatchDelay     time.Duration
	ItemDelayMin   time.Duration
	ItemDelayMax   time.Duration
	CheckLimit     int
	FetchRateLimit float64
	ProfilesPath   string
	SourcesPath    string

	// Dispatch queue
	DeliveryLimit  int
	RetryDelay     time.Duration
	MaxAttempts    int
	LeaseTTL       time.Duration
	JobRetention   time.Duration
	EventRetention time.Duration

	// Tier policy
	PrimaryRetailer  string
	FreeTierDelay    time.Duration
	NotifyCooldown   time.Duration
	BroadcastUserID  string
	BroadcastEnabled bool

	// Router, dedup, content policy
	DedupWindow       time.Duration
	MaxMessageLength  int
	MaxUppercaseRatio float64
	MaxEmojis         int
	BlockedPhrases    []string

	// Rate limiting: maximum sends per second per channel kind
	RateLimit int

	// Providers
	ProviderTimeout time.Duration
	WebhookURL      string
	SMTPHost        string
	SMTPPort        string
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	TwilioFrom      string
	TelegramToken   string
	RSSDir          string
	RSSBaseURL      string
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:    dbURL,
		DBMaxConns:     int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:     int32(getInt("DB_MIN_CONNS", 5)),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://migrations"),

		RedisURL:     getEnv("REDIS_URL", ""),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "restock.events"),

		CheckSchedule:      getEnv("CHECK_SCHEDULE", "@every 5m"),
		DeliverySchedule:   getEnv("DELIVERY_SCHEDULE", "@every 2m"),
		CleanupSchedule:    getEnv("CLEANUP_SCHEDULE", "@daily"),
		AggregatorSchedule: getEnv("AGGREGATOR_SCHEDULE", "@every 1m"),

		BatchSize:      getInt("CHECK_BATCH_SIZE", 5),
		BatchDelay:     getDuration("CHECK_BATCH_DELAY", 2*time.Second),
		ItemDelayMin:   getDuration("CHECK_ITEM_DELAY_MIN", 500*time.Millisecond),
		ItemDelayMax:   getDuration("CHECK_ITEM_DELAY_MAX", 1500*time.Millisecond),
		CheckLimit:     getInt("CHECK_LIMIT", 500),
		FetchRateLimit: getFloat("FETCH_RATE_PER_HOST", 1),
		ProfilesPath:   getEnv("PROFILES_PATH", ""),
		SourcesPath:    getEnv("SOURCES_PATH", ""),

		DeliveryLimit:  getInt("DELIVERY_LIMIT", 200),
		RetryDelay:     getDuration("RETRY_DELAY", 5*time.Minute),
		MaxAttempts:    getInt("MAX_ATTEMPTS", 3),
		LeaseTTL:       getDuration("JOB_LEASE_TTL", 15*time.Minute),
		JobRetention:   getDuration("JOB_RETENTION", 30*24*time.Hour),
		EventRetention: getDuration("EVENT_RETENTION", 7*24*time.Hour),

		PrimaryRetailer:  getEnv("PRIMARY_RETAILER", "amazon"),
		FreeTierDelay:    getDuration("FREE_TIER_DELAY", 10*time.Minute),
		NotifyCooldown:   getDuration("NOTIFY_COOLDOWN", time.Hour),
		BroadcastUserID:  getEnv("BROADCAST_USER_ID", "broadcast"),
		BroadcastEnabled: getBool("BROADCAST_ENABLED", true),

		DedupWindow:       getDuration("DEDUP_WINDOW", 24*time.Hour),
		MaxMessageLength:  getInt("MAX_MESSAGE_LENGTH", 300),
		MaxUppercaseRatio: getFloat("MAX_UPPERCASE_RATIO", 0.5),
		MaxEmojis:         getInt("MAX_EMOJIS", 3),
		BlockedPhrases: getList("BLOCKED_PHRASES", []string{
			"guaranteed profit", "click here", "limited time only!!!", "dm me", "free money",
		}),

		RateLimit: getInt("RATE_LIMIT_PER_CHANNEL", 10),

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		WebhookURL:      getEnv("SOCIAL_WEBHOOK_URL", ""),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUser:        getEnv("SMTP_USER", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:        getEnv("SMTP_FROM", ""),
		TwilioFrom:      getEnv("TWILIO_PHONE_NUMBER", ""),
		TelegramToken:   getEnv("TELEGRAM_TOKEN", ""),
		RSSDir:          getEnv("RSS_DIR", "feeds"),
		RSSBaseURL:      getEnv("RSS_BASE_URL", "http://localhost:8080"),
	}

	if cfg.ItemDelayMax < cfg.ItemDelayMin {
		return nil, fmt.Errorf("CHECK_ITEM_DELAY_MAX must not be below CHECK_ITEM_DELAY_MIN")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("CHECK_BATCH_SIZE must be positive")
	}
	if cfg.CheckLimit <= 0 {
		return nil, fmt.Errorf("CHECK_LIMIT must be positive")
	}
	if cfg.DeliveryLimit <= 0 {
		return nil, fmt.Errorf("DELIVERY_LIMIT must be positive")
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("JOB_LEASE_TTL must be positive")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getList splits a comma-separated value, dropping empty entries.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
