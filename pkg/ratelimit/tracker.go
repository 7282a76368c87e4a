package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lms_upstream_quota_remaining",
		Help: "Last reported upstream request quota (X-Rate-Limit-Remaining)",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lms_upstream_quota_blocks_total",
		Help: "Requests refused locally because the upstream quota was critical",
	})

	quotaLowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lms_upstream_quota_low_total",
		Help: "Requests sent while the upstream quota was in the warning band",
	})
)

// Tracker records upstream quota headers in Redis and gates requests.
type Tracker struct {
	redis      *redis.Client
	logger     zerolog.Logger
	prefix     string
	staleAfter time.Duration
}

// NewTracker creates a tracker whose keys live under prefix
// (e.g. "lms:<token fingerprint>:").
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, prefix string) *Tracker {
	if prefix == "" {
		prefix = "lms:"
	}
	return &Tracker{
		redis:      redisClient,
		logger:     logger,
		prefix:     prefix,
		staleAfter: DefaultStaleAfter,
	}
}

func (t *Tracker) key(suffix string) string {
	return t.prefix + suffix
}

// GetState returns the stored quota, or a full healthy bucket when nothing
// has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	remaining, err := t.redis.Get(ctx, t.key(keyRemaining)).Float64()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No upstream quota recorded, assuming healthy")
		return &QuotaState{
			Remaining:  QuotaThresholdHealthy * 2,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota remaining: %w", err)
	}

	cost, err := t.redis.Get(ctx, t.key(keyRequestCost)).Float64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get request cost: %w", err)
	}

	lastUpdateRaw, err := t.redis.Get(ctx, t.key(keyLastUpdate)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if len(lastUpdateRaw) > 0 {
		if err := json.Unmarshal(lastUpdateRaw, &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &QuotaState{
		Remaining:   remaining,
		RequestCost: cost,
		LastUpdate:  lastUpdate,
	}
	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders stores the quota reported by a response. Responses
// without the header are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := parseFloatHeader(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	var cost float64
	if costStr := headers.Get(HeaderRequestCost); costStr != "" {
		cost, err = parseFloatHeader(costStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRequestCost, err)
		}
	}

	state := &QuotaState{
		Remaining:   remain,
		RequestCost: cost,
		LastUpdate:  time.Now(),
	}
	state.UpdateHealth()

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := 10 * t.staleAfter
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key(keyRemaining), remain, ttl)
	pipe.Set(ctx, t.key(keyRequestCost), cost, ttl)
	pipe.Set(ctx, t.key(keyLastUpdate), lastUpdateJSON, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}

	quotaRemaining.Set(remain)

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Float64("remaining", remain).
			Float64("request_cost", cost).
			Msg("Upstream quota CRITICAL - new requests will be refused")
	case state.IsLow():
		t.logger.Warn().
			Float64("remaining", remain).
			Float64("request_cost", cost).
			Msg("Upstream quota low")
	default:
		t.logger.Debug().
			Float64("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream quota updated")
	}

	return nil
}

// ShouldAllowRequest returns false while a fresh reading is below the
// critical threshold. It never sleeps; callers fail fast instead.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	if state.IsStale(t.staleAfter) {
		return true, nil
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Float64("remaining", state.Remaining).
			Msg("Upstream quota critical - refusing request")
		quotaBlocksTotal.Inc()
		return false, nil
	}

	if state.IsLow() {
		quotaLowTotal.Inc()
	}

	return true, nil
}

func parseFloatHeader(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}
