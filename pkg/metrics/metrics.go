// Package metrics exposes the Prometheus registry shared by the client and
// cache packages. Metrics themselves are defined next to the code that
// records them and registered via promauto.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prefix is the common namespace of every metric in this module.
const Prefix = "incident_"

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Names returns the sorted names of registered metric families under Prefix.
// Vector metrics only show up once a label combination was observed.
func Names() ([]string, error) {
	families, err := Gatherer.Gather()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(families))
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), Prefix) {
			names = append(names, mf.GetName())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - incident_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - incident_cache_misses_total (Counter): Cache misses, expired entries included
//   - incident_cache_entries{layer} (Gauge): Entries currently held
//   - incident_cache_purged_total (Counter): Entries removed by PurgeExpired
//   - incident_cache_errors_total{operation} (Counter): Backend errors
//
// Request Metrics (pkg/client):
//   - incident_api_requests_total{method, status} (Counter): Attempts by verb and outcome
//   - incident_api_request_duration_seconds{method} (Histogram): Logical request duration
//   - incident_api_errors_total{kind} (Counter): Errors by kind
//   - incident_api_deduplicated_total (Counter): Calls served by a shared in-flight request
//   - incident_api_inflight (Gauge): Calls holding an abort handle
//
// Retry Metrics (pkg/client):
//   - incident_api_retries_total{kind} (Counter): Retry attempts by error kind
//   - incident_api_retry_backoff_seconds (Histogram): Backoff before each retry
//   - incident_api_retry_exhausted_total{kind} (Counter): Requests that used every attempt
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(incident_cache_hits_total[5m])) /
//   (sum(rate(incident_cache_hits_total[5m])) + sum(rate(incident_cache_misses_total[5m])))
//
//   # Request Error Rate
//   sum by (kind) (rate(incident_api_errors_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(incident_api_request_duration_seconds_bucket[5m]))
//
//   # Dedup savings
//   rate(incident_api_deduplicated_total[5m])
