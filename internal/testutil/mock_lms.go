// Package testutil provides testing utilities for the LMS aggregator.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix the mock serves the LMS API under.
const APIPrefix = "/api/v1"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockLMS is a configurable mock LMS server for testing. Handlers are keyed
// by path relative to APIPrefix, e.g. "/courses/1/assignments".
type MockLMS struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requests          []string
	lastRequestHeader http.Header
}

// NewMockLMS creates a new mock LMS server.
func NewMockLMS() *MockLMS {
	mock := &MockLMS{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, r.URL.RequestURI())
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[strings.TrimPrefix(r.URL.Path, APIPrefix)]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server root URL.
func (m *MockLMS) URL() string {
	return m.server.URL
}

// BaseURL returns the API root clients should be configured with.
func (m *MockLMS) BaseURL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockLMS) Close() {
	m.server.Close()
}

// Reset clears request tracking.
func (m *MockLMS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a path.
func (m *MockLMS) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockLMS) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON serves v as JSON with the given status.
func (m *MockLMS) SetJSON(path string, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal mock body for %s: %v", path, err))
	}
	m.SetResponse(path, MockResponse{StatusCode: status, Body: string(body)})
}

// SetStatus serves an upstream style error body with the given status.
func (m *MockLMS) SetStatus(path string, status int) {
	m.SetResponse(path, MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"errors":[{"message":"%s"}]}`, http.StatusText(status)),
	})
}

// SetPages serves pages[n-1] for ?page=n (page 1 when absent) and links
// each page to the next one with an absolute rel="next" URL.
func (m *MockLMS) SetPages(path string, pages ...[]map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		n := 1
		if p := r.URL.Query().Get("page"); p != "" {
			parsed, err := strconv.Atoi(p)
			if err != nil || parsed < 1 || parsed > len(pages) {
				http.Error(w, `{"errors":[{"message":"bad page"}]}`, http.StatusBadRequest)
				return
			}
			n = parsed
		}

		if n < len(pages) {
			q := r.URL.Query()
			q.Set("page", strconv.Itoa(n+1))
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?%s>; rel="next", <%s%s?page=1>; rel="first"`,
				m.BaseURL(), path, q.Encode(), m.BaseURL(), path))
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(pages[n-1])
	})
}

// Requests returns the request URIs received so far.
func (m *MockLMS) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockLMS) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// CountRequests returns how many requests hit path (query ignored).
func (m *MockLMS) CountRequests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, uri := range m.requests {
		p, _, _ := strings.Cut(uri, "?")
		if strings.TrimPrefix(p, APIPrefix) == path {
			n++
		}
	}
	return n
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockLMS) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// defaultHandler answers unknown paths like the upstream does.
func (m *MockLMS) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"errors":[{"message":"The specified resource does not exist."}]}`))
}
