// Package client provides the upstream LMS HTTP client: bearer
// authentication, outbound rate limiting, quota tracking and error
// classification.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_upstream_requests_total",
		Help: "Total upstream LMS requests by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lms_upstream_request_duration_seconds",
		Help:    "Upstream LMS request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_upstream_errors_total",
		Help: "Total upstream LMS errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors other than 403.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassDenied represents 403 permission denied.
	ErrorClassDenied ErrorClass = "denied"

	// ErrorClassServer represents 5xx errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// Client talks to one LMS instance with one bearer token.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	quota      *ratelimit.Tracker
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://lms.example.edu/api/v1".
	BaseURL string

	// Token is sent as "Authorization: Bearer <token>".
	Token string

	// UserAgent header value.
	UserAgent string

	// Timeout bounds each upstream request, including reading the body.
	Timeout time.Duration

	// RateLimit is the outbound request rate per second (0 disables).
	RateLimit float64
	Burst     int

	// Redis is optional; when set, upstream quota headers are tracked and
	// requests are refused while the shared quota is critical.
	Redis          *redis.Client
	QuotaKeyPrefix string
}

// DefaultConfig returns a configuration with safe defaults.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:   baseURL,
		Token:     token,
		UserAgent: "lms-dashboard-aggregator/1.0",
		Timeout:   30 * time.Second,
		RateLimit: 20,
		Burst:     10,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := logging.NewLogger(logging.ComponentClient)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	var quota *ratelimit.Tracker
	if cfg.Redis != nil {
		quota = ratelimit.NewTracker(cfg.Redis, logging.NewLogger(logging.ComponentRateLimit), cfg.QuotaKeyPrefix)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		quota:   quota,
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Do performs an upstream request. HTTP error statuses are returned as a
// response, not an error; only transport failures, rate limiter waits that
// are cancelled and quota refusals produce an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := endpointLabel(req.URL.Path, c.baseURL.Path)

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			upstreamRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
			return nil, fmt.Errorf("outbound rate limit: %w", err)
		}
	}

	if c.quota != nil {
		allowed, err := c.quota.ShouldAllowRequest(ctx)
		if err != nil {
			// Redis trouble must not take the upstream down with it.
			c.logger.Warn().Err(err).Msg("Quota check failed, sending request anyway")
		} else if !allowed {
			upstreamRequestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
			return nil, ErrQuotaExhausted
		}
	}

	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Upstream request failed")
		return nil, &UpstreamError{
			ErrorClass: errClass,
			Message:    "request failed",
			Path:       req.URL.RequestURI(),
			Err:        err,
		}
	}

	if c.quota != nil {
		if err := c.quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update upstream quota from headers")
		}
	}

	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := c.classifyError(resp, nil)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")
	}

	return resp, nil
}

// classifyError categorizes a failure for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrorClassDenied
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Get performs a GET for a path relative to the base URL
// (e.g. "/courses?per_page=50").
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// URL returns the absolute URL for a relative path.
func (c *Client) URL(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "?") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

// BaseURL returns the configured API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// RelativePath strips the base URL from an absolute URL. It reports false
// when the URL points anywhere else.
func (c *Client) RelativePath(absolute string) (string, bool) {
	base := c.baseURL.String()
	if !strings.HasPrefix(absolute, base) {
		return "", false
	}
	rest := absolute[len(base):]
	if rest != "" && rest[0] != '/' && rest[0] != '?' {
		// "https://host/api/v1x/..." shares the prefix but not the root.
		return "", false
	}
	return rest, true
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

var numericSegment = regexp.MustCompile(`/\d+(/|$)`)

// endpointLabel turns "/api/v1/courses/42/assignments" into
// "/courses/:id/assignments" to keep metric cardinality bounded.
func endpointLabel(path, basePath string) string {
	path = strings.TrimPrefix(path, basePath)
	for numericSegment.MatchString(path) {
		path = numericSegment.ReplaceAllString(path, "/:id$1")
	}
	if path == "" {
		return "/"
	}
	return path
}
