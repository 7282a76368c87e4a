// Package ratelimit tracks the upstream LMS request quota reported in the
// X-Rate-Limit-Remaining response header. State is shared through Redis so
// that several aggregator instances using the same token see one budget.
package ratelimit

import (
	"time"
)

// Redis key suffixes for quota state. Keys are prefixed per tracker.
const (
	keyRemaining   = "quota:remaining"
	keyRequestCost = "quota:request_cost"
	keyLastUpdate  = "quota:last_update"
)

// Response headers carrying the quota.
const (
	HeaderRemaining   = "X-Rate-Limit-Remaining"
	HeaderRequestCost = "X-Request-Cost"
)

// Thresholds on the remaining quota.
const (
	// QuotaThresholdCritical blocks new requests until the bucket refills.
	QuotaThresholdCritical = 50.0

	// QuotaThresholdWarning is logged and counted, requests still go out.
	QuotaThresholdWarning = 150.0

	// QuotaThresholdHealthy and above is normal operation.
	QuotaThresholdHealthy = 300.0
)

// DefaultStaleAfter is how long a recorded quota is trusted. The upstream
// bucket refills continuously, so old readings understate the budget.
const DefaultStaleAfter = 30 * time.Second

// QuotaState is the last known upstream quota.
type QuotaState struct {
	// Remaining is the value of X-Rate-Limit-Remaining.
	Remaining float64 `json:"remaining"`

	// RequestCost is the value of X-Request-Cost for the last request.
	RequestCost float64 `json:"request_cost"`

	// LastUpdate is when the headers were observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= QuotaThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be refused.
func (s *QuotaState) NeedsCriticalBlock() bool {
	return s.Remaining < QuotaThresholdCritical
}

// IsLow returns true in the warning band (below warning, above critical).
func (s *QuotaState) IsLow() bool {
	return s.Remaining < QuotaThresholdWarning && !s.NeedsCriticalBlock()
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= QuotaThresholdHealthy
}
