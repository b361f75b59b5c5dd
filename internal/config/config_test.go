package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PATROLSTATS_CONFIG", "TIME_ZONE", "PORT", "ENV", "LOG_LEVEL", "DATABASE_URL",
	"API_BASE_URL", "ORG_ID", "AUTH_TOKEN", "REQUEST_TIMEOUT", "VERIFY_TLS",
	"PAGE_SIZE", "MAX_PAGES", "MAX_CONSECUTIVE_EMPTY", "REQUEST_DELAY",
	"ACTIVITIES_PER_DAY", "DEFAULT_ACTIVITY_PAGE_SIZE", "MAX_ACTIVITY_PAGE_SIZE",
	"DETAIL_PAGE_SIZE", "DETAIL_DELAY", "DETAIL_CACHE_TTL", "SIGNED_IN_ONLY",
	"NATS_URL", "NATS_TOKEN", "PROGRESS_SUBJECT",
	"SCHEDULE_INTERVAL", "SCHEDULE_LOOKBACK_DAYS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://xhbr.rwan.org.cn/prod-api", cfg.BaseURL)
	assert.Equal(t, "843", cfg.OrgID)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 100, cfg.MaxPages)
	assert.Equal(t, 3, cfg.MaxConsecutiveEmpty)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 6, cfg.ActivitiesPerDay)
	assert.Equal(t, 40, cfg.DefaultActivityPageSize)
	assert.Empty(t, cfg.AuthToken)
	assert.Empty(t, cfg.NatsURL)
	assert.Zero(t, cfg.ScheduleInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAGE_SIZE", "25")
	t.Setenv("MAX_PAGES", "7")
	t.Setenv("REQUEST_DELAY", "0s")
	t.Setenv("AUTH_TOKEN", "Bearer abc")
	t.Setenv("SIGNED_IN_ONLY", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, 7, cfg.MaxPages)
	assert.Zero(t, cfg.RequestDelay)
	assert.Equal(t, "Bearer abc", cfg.AuthToken)
	assert.True(t, cfg.SignedInOnly)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAGE_SIZE", "ten")
	t.Setenv("REQUEST_DELAY", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelay)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "patrolstats.yaml")
	err := os.WriteFile(path, []byte(`
org_id: "901"
page_size: 20
max_consecutive_empty: 5
request_delay: 1s
auth_token: from-file
`), 0o600)
	require.NoError(t, err)

	t.Setenv("PATROLSTATS_CONFIG", path)
	t.Setenv("PAGE_SIZE", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "901", cfg.OrgID)
	assert.Equal(t, 30, cfg.PageSize, "env wins over file")
	assert.Equal(t, 5, cfg.MaxConsecutiveEmpty)
	assert.Equal(t, time.Second, cfg.RequestDelay)
	assert.Equal(t, "from-file", cfg.AuthToken)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PATROLSTATS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())

	cfg.TimeZone = "Nowhere/Special"
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 8*60*60, offset)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"zero max pages", func(c *Config) { c.MaxPages = 0 }},
		{"zero streak", func(c *Config) { c.MaxConsecutiveEmpty = 0 }},
		{"negative delay", func(c *Config) { c.RequestDelay = -time.Second }},
		{"empty base url", func(c *Config) { c.BaseURL = "" }},
		{"activity sizes inverted", func(c *Config) { c.MaxActivityPageSize = 10 }},
		{"schedule without lookback", func(c *Config) {
			c.ScheduleInterval = time.Hour
			c.ScheduleLookbackDays = 0
		}},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
