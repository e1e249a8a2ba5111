package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healctl/healctl/internal/metrics"
)

func promHandler(m *metrics.Collector) http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// MetricsOnlyHandler serves /metrics for healctld's optional separate
// metrics port, without the rest of the control surface.
func MetricsOnlyHandler(m *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promHandler(m))
	return mux
}
