package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrQuotaExhausted is returned when the shared upstream quota is critical.
var ErrQuotaExhausted = errors.New("upstream quota exhausted")

// UpstreamError describes a failed upstream request.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Path       string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream %s error: %s %s: %v", e.ErrorClass, e.Message, e.Path, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewStatusError builds an UpstreamError from a non-2xx response and
// consumes up to 512 bytes of its body for the message.
func NewStatusError(resp *http.Response) *UpstreamError {
	msg := resp.Status
	if resp.Body != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg = resp.Status + ": " + s
		}
	}

	class := ErrorClassClient
	switch {
	case resp.StatusCode == http.StatusForbidden:
		class = ErrorClassDenied
	case resp.StatusCode >= 500:
		class = ErrorClassServer
	}

	path := ""
	if resp.Request != nil && resp.Request.URL != nil {
		path = resp.Request.URL.RequestURI()
	}

	return &UpstreamError{
		StatusCode: resp.StatusCode,
		ErrorClass: class,
		Message:    msg,
		Path:       path,
	}
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
