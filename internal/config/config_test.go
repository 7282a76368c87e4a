package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LMS_BASE_URL", "https://lms.example.edu/api/v1")
	t.Setenv("LMS_TOKEN", "secret")
	t.Setenv("CONFIG_PATH", "")
}

func TestLoad_DefaultsWithRequiredEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://lms.example.edu/api/v1", cfg.LMS.BaseURL)
	assert.Equal(t, 50, cfg.LMS.PageSize)
	assert.Equal(t, 50, cfg.LMS.MaxPages)
	assert.Equal(t, 7*24*time.Hour, cfg.Aggregation.PastWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.Aggregation.FutureWindow)
	assert.Empty(t, cfg.Aggregation.CurrentCourseIDs)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("LMS_BASE_URL", "")
	t.Setenv("LMS_TOKEN", "")
	t.Setenv("CONFIG_PATH", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseURL")
	assert.Contains(t, err.Error(), "Token")
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LMS_PAGE_SIZE", "25")
	t.Setenv("LMS_MAX_PAGES", "3")
	t.Setenv("LMS_TIMEOUT", "5s")
	t.Setenv("LMS_RATE_LIMIT", "2.5")
	t.Setenv("ASSIGNMENT_PAST_DAYS", "3")
	t.Setenv("CURRENT_COURSE_IDS", " 101, 202 ,,303")
	t.Setenv("ASSIGNMENT_SUBMISSIONS", "false")
	t.Setenv("FANOUT_WIDTH", "2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 25, cfg.LMS.PageSize)
	assert.Equal(t, 3, cfg.LMS.MaxPages)
	assert.Equal(t, 5*time.Second, cfg.LMS.Timeout)
	assert.Equal(t, 2.5, cfg.LMS.RateLimit)
	assert.Equal(t, 3*24*time.Hour, cfg.Aggregation.PastWindow)
	assert.Equal(t, []string{"101", "202", "303"}, cfg.Aggregation.CurrentCourseIDs)
	assert.False(t, cfg.Aggregation.AssignmentSubmissions)

	agg := cfg.Aggregate()
	assert.Equal(t, 2, agg.Fanout.MaxConcurrency)
	assert.Equal(t, []string{"101", "202", "303"}, agg.CurrentCourseIDs)
	assert.Equal(t, 3, cfg.Pagination().MaxPages)
	assert.Equal(t, 25, cfg.Resources().PageSize)
	assert.Equal(t, "debug", string(cfg.Logging().Level))
}

func TestLoad_InvalidEnvValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LMS_PAGE_SIZE", "lots")
	t.Setenv("LMS_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LMS_PAGE_SIZE")
	assert.Contains(t, err.Error(), "LMS_TIMEOUT")
}

func TestLoad_ValidationRanges(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"page size too large", "LMS_PAGE_SIZE", "500", "PageSize"},
		{"zero max pages", "LMS_MAX_PAGES", "0", "MaxPages"},
		{"bad log level", "LOG_LEVEL", "verbose", "Level"},
		{"non numeric port", "PORT", "http", "Port"},
		{"fan-out too wide", "FANOUT_WIDTH", "1000", "FanoutWidth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"server:",
		"  port: \"7000\"",
		"  cors_origin: https://dashboard.example.edu",
		"lms:",
		"  base_url: https://yaml.example.edu/api/v1",
		"  token: from-yaml",
		"  max_pages: 10",
		"  timeout: 12s",
		"aggregation:",
		"  future_window: 48h",
		"  current_course_ids: [\"11\", \"12\"]",
		"redis:",
		"  addr: localhost:6379",
		"  quota_prefix: \"test:\"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("LMS_BASE_URL", "")
	t.Setenv("LMS_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "https://dashboard.example.edu", cfg.Server.CORSOrigin)
	assert.Equal(t, "https://yaml.example.edu/api/v1", cfg.LMS.BaseURL)
	assert.Equal(t, "from-env", cfg.LMS.Token, "env wins over the file")
	assert.Equal(t, 10, cfg.LMS.MaxPages)
	assert.Equal(t, 12*time.Second, cfg.LMS.Timeout)
	assert.Equal(t, 48*time.Hour, cfg.Aggregation.FutureWindow)
	assert.Equal(t, []string{"11", "12"}, cfg.Aggregation.CurrentCourseIDs)
	assert.Equal(t, 50, cfg.LMS.PageSize, "unset keys keep defaults")

	cc := cfg.Client(nil)
	assert.Equal(t, "test:", cc.QuotaKeyPrefix)
	assert.Equal(t, "from-env", cc.Token)
	assert.Nil(t, cc.Redis)
}

func TestLoad_MissingYAMLFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a, b,"))
	assert.Nil(t, splitList(" , "))
}
