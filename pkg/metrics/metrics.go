// Package metrics provides the Prometheus registry reference for the batch
// updater. All metrics are defined in their respective packages (alma,
// ratelimit, batch) via promauto to keep them next to the code they observe.
//
// This package documents the available metrics in one place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the batch updater.
// All metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - alma_rate_limit_wait_seconds (Histogram): Time spent waiting for admission
//   - alma_rate_limit_admissions_total (Counter): Requests admitted
//
// Request Metrics (pkg/alma):
//   - alma_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - alma_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - alma_errors_total{class} (Counter): Errors by class (api, protocol, transport)
//
// Batch Metrics (pkg/batch):
//   - batch_users_processed_total{outcome} (Counter): Users by outcome (updated, unchanged, failed)
//   - batch_pages_completed_total (Counter): Listing pages fully processed
//
// Example Prometheus Queries:
//
//   # Long-run request rate (should stay at or under the configured limit)
//   rate(alma_rate_limit_admissions_total[1m])
//
//   # Update rate across the run
//   rate(batch_users_processed_total{outcome="updated"}[5m])
//
//   # Failure ratio
//   sum(rate(batch_users_processed_total{outcome="failed"}[5m])) /
//   sum(rate(batch_users_processed_total[5m]))
//
//   # P95 request latency by operation
//   histogram_quantile(0.95, rate(alma_request_duration_seconds_bucket[5m]))
