// Package config loads the service configuration from an optional .env
// file, an optional YAML file (CONFIG_PATH) and environment variables, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/aggregate"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/client"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/fanout"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

const day = 24 * time.Hour

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	LMS         LMSConfig         `yaml:"lms"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required,numeric"`
	CORSOrigin      string        `yaml:"cors_origin" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type LMSConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Token     string        `yaml:"token" validate:"required"`
	UserAgent string        `yaml:"user_agent"`
	PageSize  int           `yaml:"page_size" validate:"min=1,max=100"`
	MaxPages  int           `yaml:"max_pages" validate:"min=1"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst     int           `yaml:"burst" validate:"gte=0"`
}

type AggregationConfig struct {
	PastWindow            time.Duration `yaml:"past_window" validate:"gte=0"`
	FutureWindow          time.Duration `yaml:"future_window" validate:"gte=0"`
	AnnouncementWindow    time.Duration `yaml:"announcement_window" validate:"gte=0"`
	CurrentCourseIDs      []string      `yaml:"current_course_ids"`
	FanoutWidth           int           `yaml:"fanout_width" validate:"min=1,max=64"`
	AssignmentSubmissions bool          `yaml:"assignment_submissions"`
}

// RedisConfig is optional; an empty Addr disables quota tracking.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db" validate:"gte=0"`
	QuotaPrefix string `yaml:"quota_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
		},
		LMS: LMSConfig{
			UserAgent: "lms-dashboard-aggregator/1.0",
			PageSize:  50,
			MaxPages:  pagination.DefaultMaxPages,
			Timeout:   30 * time.Second,
			RateLimit: 20,
			Burst:     10,
		},
		Aggregation: AggregationConfig{
			PastWindow:            7 * day,
			FutureWindow:          30 * day,
			AnnouncementWindow:    14 * day,
			FanoutWidth:           fanout.DefaultConfig().MaxConcurrency,
			AssignmentSubmissions: true,
		},
		Redis: RedisConfig{
			QuotaPrefix: "lms:",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_PATH (if
// set), applies environment overrides and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.CORSOrigin, "CORS_ORIGIN")

	setString(&c.LMS.BaseURL, "LMS_BASE_URL")
	setString(&c.LMS.Token, "LMS_TOKEN")
	setString(&c.LMS.UserAgent, "USER_AGENT")

	setString(&c.Redis.Addr, "REDIS_URL")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.QuotaPrefix, "REDIS_QUOTA_PREFIX")

	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("CURRENT_COURSE_IDS"); v != "" {
		c.Aggregation.CurrentCourseIDs = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setInt(&c.LMS.PageSize, "LMS_PAGE_SIZE"),
		setInt(&c.LMS.MaxPages, "LMS_MAX_PAGES"),
		setInt(&c.LMS.Burst, "LMS_RATE_BURST"),
		setFloat(&c.LMS.RateLimit, "LMS_RATE_LIMIT"),
		setDuration(&c.LMS.Timeout, "LMS_TIMEOUT"),
		setDuration(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
		setDays(&c.Aggregation.PastWindow, "ASSIGNMENT_PAST_DAYS"),
		setDays(&c.Aggregation.FutureWindow, "ASSIGNMENT_FUTURE_DAYS"),
		setDays(&c.Aggregation.AnnouncementWindow, "ANNOUNCEMENT_DAYS"),
		setInt(&c.Aggregation.FanoutWidth, "FANOUT_WIDTH"),
		setBool(&c.Aggregation.AssignmentSubmissions, "ASSIGNMENT_SUBMISSIONS"),
		setInt(&c.Redis.DB, "REDIS_DB"),
		setBool(&c.Log.Pretty, "LOG_PRETTY"),
	)
	return errors.Join(errs...)
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Client returns the upstream client configuration. redisClient may be nil.
func (c *Config) Client(redisClient *redis.Client) client.Config {
	return client.Config{
		BaseURL:        c.LMS.BaseURL,
		Token:          c.LMS.Token,
		UserAgent:      c.LMS.UserAgent,
		Timeout:        c.LMS.Timeout,
		RateLimit:      c.LMS.RateLimit,
		Burst:          c.LMS.Burst,
		Redis:          redisClient,
		QuotaKeyPrefix: c.Redis.QuotaPrefix,
	}
}

// Pagination returns the fetcher configuration.
func (c *Config) Pagination() pagination.Config {
	return pagination.Config{MaxPages: c.LMS.MaxPages}
}

// Resources returns the resource client configuration.
func (c *Config) Resources() lms.Config {
	return lms.Config{PageSize: c.LMS.PageSize}
}

// Aggregate returns the aggregator configuration.
func (c *Config) Aggregate() aggregate.Config {
	return aggregate.Config{
		PastWindow:            c.Aggregation.PastWindow,
		FutureWindow:          c.Aggregation.FutureWindow,
		AnnouncementWindow:    c.Aggregation.AnnouncementWindow,
		CurrentCourseIDs:      c.Aggregation.CurrentCourseIDs,
		AssignmentSubmissions: c.Aggregation.AssignmentSubmissions,
		Fanout:                fanout.Config{MaxConcurrency: c.Aggregation.FanoutWidth},
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setDays(dst *time.Duration, key string) error {
	var n int
	if err := setInt(&n, key); err != nil {
		return err
	}
	if os.Getenv(key) != "" {
		*dst = time.Duration(n) * day
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
