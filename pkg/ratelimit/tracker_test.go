package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseFloatHeader(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"700", 700, false},
		{"699.38", 699.38, false},
		{" 12.5 ", 12.5, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFloatHeader(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFloatHeader(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFloatHeader(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUpdateFromHeaders_InvalidHeaders(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	// Redis is never reached for these inputs.
	tracker := NewTracker(nil, logger, "")

	tests := []struct {
		name        string
		remain      string
		cost        string
		shouldError bool
	}{
		{"missing remain header", "", "0.5", false},
		{"both headers missing", "", "", false},
		{"invalid remain header", "lots", "0.5", true},
		{"invalid cost header", "650", "cheap", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.remain != "" {
				headers.Set(HeaderRemaining, tt.remain)
			}
			if tt.cost != "" {
				headers.Set(HeaderRequestCost, tt.cost)
			}

			err := tracker.UpdateFromHeaders(context.Background(), headers)
			if tt.shouldError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNewTracker_DefaultPrefix(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop(), "")

	if got := tracker.key(keyRemaining); got != "lms:quota:remaining" {
		t.Errorf("key() = %q, want lms:quota:remaining", got)
	}

	tracker = NewTracker(nil, zerolog.Nop(), "tenant-a:")
	if got := tracker.key(keyLastUpdate); got != "tenant-a:quota:last_update" {
		t.Errorf("key() = %q, want tenant-a:quota:last_update", got)
	}
}
