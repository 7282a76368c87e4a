// Package metrics exposes the Prometheus registry used by the aggregator.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, fanout, aggregate) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the scrape handler and a reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the aggregator.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream Quota Metrics (pkg/ratelimit):
//   - lms_upstream_quota_remaining (Gauge): Last reported request quota remaining
//   - lms_upstream_quota_blocks_total (Counter): Requests refused locally because the quota was critical
//   - lms_upstream_quota_low_total (Counter): Requests sent while the quota was in the warning band
//
// Request Metrics (pkg/client):
//   - lms_upstream_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - lms_upstream_request_duration_seconds{endpoint} (Histogram): Upstream request duration by endpoint
//   - lms_upstream_errors_total{class} (Counter): Errors by class (client, denied, server, network)
//
// Pagination Metrics (pkg/pagination):
//   - lms_pagination_pages_fetched_total (Counter): Pages read across all fetches
//   - lms_pagination_truncated_total (Counter): Fetches stopped by the page cap
//   - lms_pagination_results_total{kind} (Counter): Fetch results by kind (items, single, denied, failed)
//
// Fan-out Metrics (pkg/fanout):
//   - lms_fanout_tasks_total{result} (Counter): Per-course tasks by result (ok, error)
//   - lms_fanout_task_duration_seconds (Histogram): Per-course task duration
//
// Aggregation Metrics (pkg/aggregate):
//   - lms_aggregations_total{variant, result} (Counter): Aggregations by variant and result
//   - lms_aggregation_duration_seconds{variant} (Histogram): Aggregation duration
//   - lms_aggregation_section_failures_total{section} (Counter): Inaccessible sections
//   - lms_aggregation_course_failures_total{resource} (Counter): Inaccessible per-course resources
//
// Example Prometheus Queries:
//
//   # Upstream Error Rate
//   rate(lms_upstream_errors_total[5m])
//
//   # Quota Status
//   lms_upstream_quota_remaining < 100
//
//   # P95 Dashboard Latency
//   histogram_quantile(0.95, rate(lms_aggregation_duration_seconds_bucket{variant="dashboard"}[5m]))
//
//   # Truncated Fetch Rate
//   rate(lms_pagination_truncated_total[5m]) / rate(lms_pagination_results_total{kind="items"}[5m])
