package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(serverURL+"/api/v1", "secret-token")
	cfg.RateLimit = 0
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://lms.example.edu/api/v1", "tok"),
			expectError: false,
		},
		{
			name:        "missing base url",
			config:      Config{Token: "tok"},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "relative base url",
			config:      Config{BaseURL: "/api/v1", Token: "tok"},
			expectError: true,
			errorMsg:    "absolute http(s) url",
		},
		{
			name:        "unsupported scheme",
			config:      Config{BaseURL: "ftp://lms.example.edu", Token: "tok"},
			expectError: true,
			errorMsg:    "absolute http(s) url",
		},
		{
			name:        "missing token",
			config:      Config{BaseURL: "https://lms.example.edu/api/v1"},
			expectError: true,
			errorMsg:    "token is required",
		},
		{
			name:        "negative rate limit",
			config:      Config{BaseURL: "https://lms.example.edu", Token: "tok", RateLimit: -1},
			expectError: true,
			errorMsg:    "rate_limit must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Error = %q, want to contain %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c == nil {
				t.Fatal("Expected client but got nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://lms.example.edu/api/v1", "tok")

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.RateLimit <= 0 {
		t.Errorf("RateLimit = %v, want > 0", cfg.RateLimit)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should not be empty")
	}
	if cfg.Redis != nil {
		t.Error("Redis should be nil by default")
	}
}

func TestClassifyError(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{"network error", 0, errors.New("connection refused"), ErrorClassNetwork},
		{"400 bad request", 400, nil, ErrorClassClient},
		{"401 unauthorized", 401, nil, ErrorClassClient},
		{"403 forbidden", 403, nil, ErrorClassDenied},
		{"404 not found", 404, nil, ErrorClassClient},
		{"500 internal error", 500, nil, ErrorClassServer},
		{"503 unavailable", 503, nil, ErrorClassServer},
		{"200 ok", 200, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.statusCode}
			}

			if got := c.classifyError(resp, tt.err); got != tt.expected {
				t.Errorf("classifyError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDo_SetsHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	resp, err := c.Get(context.Background(), "/users/self")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
	if gotUA != "lms-dashboard-aggregator/1.0" {
		t.Errorf("User-Agent = %q, want lms-dashboard-aggregator/1.0", gotUA)
	}
}

func TestGet_BuildsURLFromBase(t *testing.T) {
	var gotURI string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	resp, err := c.Get(context.Background(), "/courses?per_page=50&include[]=term")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if gotURI != "/api/v1/courses?per_page=50&include[]=term" {
		t.Errorf("request URI = %q", gotURI)
	}
}

func TestDo_ErrorStatusIsReturnedAsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":[{"message":"unauthorized"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	resp, err := c.Get(context.Background(), "/courses/1/students/submissions")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unauthorized") {
		t.Errorf("body = %q, want upstream payload", body)
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)

	_, err := c.Get(context.Background(), "/users/self")
	if err == nil {
		t.Fatal("Expected error for closed server")
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %T, want *UpstreamError", err)
	}
	if ue.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %v, want %v", ue.ErrorClass, ErrorClassNetwork)
	}
}

func TestDo_RateLimiterHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL, "tok")
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// First request consumes the only token.
	resp, err := c.Get(context.Background(), "/a")
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Get(ctx, "/b"); err == nil {
		t.Error("Expected rate limiter error when the next token is far away")
	}
}

func TestDo_QuotaBlock(t *testing.T) {
	redisClient := setupTestRedis(t)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("X-Rate-Limit-Remaining", "5")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL, "tok")
	cfg.RateLimit = 0
	cfg.Redis = redisClient
	cfg.QuotaKeyPrefix = "client-test:"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := c.Get(context.Background(), "/users/self")
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	resp.Body.Close()

	_, err = c.Get(context.Background(), "/users/self")
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("second Get() error = %v, want ErrQuotaExhausted", err)
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1", hits)
	}
}

func TestRelativePath(t *testing.T) {
	c, err := New(DefaultConfig("https://lms.example.edu/api/v1/", "tok"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://lms.example.edu/api/v1/courses?page=2", "/courses?page=2", true},
		{"https://lms.example.edu/api/v1?page=2", "?page=2", true},
		{"https://lms.example.edu/api/v1x/courses", "", false},
		{"https://evil.example.com/api/v1/courses", "", false},
		{"/courses?page=2", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := c.RelativePath(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("RelativePath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/users/self", "/users/self"},
		{"/api/v1/courses/42/assignments", "/courses/:id/assignments"},
		{"/api/v1/courses/42/assignments/7/submissions", "/courses/:id/assignments/:id/submissions"},
		{"/api/v1/courses/1/2", "/courses/:id/:id"},
		{"/api/v1", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := endpointLabel(tt.path, "/api/v1"); got != tt.want {
				t.Errorf("endpointLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
