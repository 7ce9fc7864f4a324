/*
Package metrics exposes github.com/prometheus/client_golang counters,
gauges, and histograms for the repository's storage, cache, bag, and HTTP
boundary operations, served over /metrics via promhttp.Handler.
*/
package metrics
