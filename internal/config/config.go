package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Port        string `yaml:"port"`
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`
	TimeZone    string `yaml:"time_zone"`

	// Upstream portal
	BaseURL        string        `yaml:"base_url"`
	OrgID          string        `yaml:"org_id"`
	AuthToken      string        `yaml:"auth_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	VerifyTLS      bool          `yaml:"verify_tls"`

	// Pagination
	PageSize            int           `yaml:"page_size"`
	MaxPages            int           `yaml:"max_pages"`
	MaxConsecutiveEmpty int           `yaml:"max_consecutive_empty"`
	RequestDelay        time.Duration `yaml:"request_delay"`

	// Activities
	ActivitiesPerDay        int           `yaml:"activities_per_day"`
	DefaultActivityPageSize int           `yaml:"default_activity_page_size"`
	MaxActivityPageSize     int           `yaml:"max_activity_page_size"`
	DetailPageSize          int           `yaml:"detail_page_size"`
	DetailDelay             time.Duration `yaml:"detail_delay"`
	DetailCacheTTL          time.Duration `yaml:"detail_cache_ttl"`
	SignedInOnly            bool          `yaml:"signed_in_only"`

	// Progress fan-out
	NatsURL         string `yaml:"nats_url"`
	NatsToken       string `yaml:"nats_token"`
	ProgressSubject string `yaml:"progress_subject"`

	// Scheduled collection (0 disables)
	ScheduleInterval     time.Duration `yaml:"schedule_interval"`
	ScheduleLookbackDays int           `yaml:"schedule_lookback_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8080",
		Env:      "development",
		LogLevel: "info",
		TimeZone: "Asia/Shanghai",

		BaseURL:        "https://xhbr.rwan.org.cn/prod-api",
		OrgID:          "843",
		RequestTimeout: 30 * time.Second,
		VerifyTLS:      true,

		PageSize:            10,
		MaxPages:            100,
		MaxConsecutiveEmpty: 3,
		RequestDelay:        500 * time.Millisecond,

		ActivitiesPerDay:        6,
		DefaultActivityPageSize: 40,
		MaxActivityPageSize:     200,
		DetailPageSize:          10,
		DetailDelay:             300 * time.Millisecond,
		DetailCacheTTL:          30 * time.Minute,

		ProgressSubject: "patrolstats.progress",

		ScheduleLookbackDays: 7,
	}
}

// Load reads configuration from an optional YAML file named by
// PATROLSTATS_CONFIG, then applies environment variable overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PATROLSTATS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.TimeZone = getEnv("TIME_ZONE", cfg.TimeZone)

	cfg.BaseURL = getEnv("API_BASE_URL", cfg.BaseURL)
	cfg.OrgID = getEnv("ORG_ID", cfg.OrgID)
	cfg.AuthToken = getEnv("AUTH_TOKEN", cfg.AuthToken)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.VerifyTLS = getBool("VERIFY_TLS", cfg.VerifyTLS)

	cfg.PageSize = getInt("PAGE_SIZE", cfg.PageSize)
	cfg.MaxPages = getInt("MAX_PAGES", cfg.MaxPages)
	cfg.MaxConsecutiveEmpty = getInt("MAX_CONSECUTIVE_EMPTY", cfg.MaxConsecutiveEmpty)
	cfg.RequestDelay = getDuration("REQUEST_DELAY", cfg.RequestDelay)

	cfg.ActivitiesPerDay = getInt("ACTIVITIES_PER_DAY", cfg.ActivitiesPerDay)
	cfg.DefaultActivityPageSize = getInt("DEFAULT_ACTIVITY_PAGE_SIZE", cfg.DefaultActivityPageSize)
	cfg.MaxActivityPageSize = getInt("MAX_ACTIVITY_PAGE_SIZE", cfg.MaxActivityPageSize)
	cfg.DetailPageSize = getInt("DETAIL_PAGE_SIZE", cfg.DetailPageSize)
	cfg.DetailDelay = getDuration("DETAIL_DELAY", cfg.DetailDelay)
	cfg.DetailCacheTTL = getDuration("DETAIL_CACHE_TTL", cfg.DetailCacheTTL)
	cfg.SignedInOnly = getBool("SIGNED_IN_ONLY", cfg.SignedInOnly)

	cfg.NatsURL = getEnv("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = getEnv("NATS_TOKEN", cfg.NatsToken)
	cfg.ProgressSubject = getEnv("PROGRESS_SUBJECT", cfg.ProgressSubject)

	cfg.ScheduleInterval = getDuration("SCHEDULE_INTERVAL", cfg.ScheduleInterval)
	cfg.ScheduleLookbackDays = getInt("SCHEDULE_LOOKBACK_DAYS", cfg.ScheduleLookbackDays)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks that values are sane.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be > 0")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be > 0")
	}
	if c.MaxConsecutiveEmpty <= 0 {
		return fmt.Errorf("max_consecutive_empty must be > 0")
	}
	if c.RequestDelay < 0 || c.DetailDelay < 0 {
		return fmt.Errorf("request delays must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	if c.ActivitiesPerDay <= 0 {
		return fmt.Errorf("activities_per_day must be > 0")
	}
	if c.DefaultActivityPageSize <= 0 || c.MaxActivityPageSize < c.DefaultActivityPageSize {
		return fmt.Errorf("activity page sizes must satisfy 0 < default <= max")
	}
	if c.DetailPageSize <= 0 {
		return fmt.Errorf("detail_page_size must be > 0")
	}
	if c.ScheduleInterval < 0 {
		return fmt.Errorf("schedule_interval must be >= 0")
	}
	if c.ScheduleInterval > 0 && c.ScheduleLookbackDays <= 0 {
		return fmt.Errorf("schedule_lookback_days must be > 0 when scheduling is enabled")
	}
	return nil
}

// Location returns the zone portal timestamps and cutoff dates are read in.
// Unknown zones fall back to UTC+8.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.TimeZone); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*60*60)
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
