package config

import (
	"github.com/marmos91/dittodrop/pkg/metrics"
	promMetrics "github.com/marmos91/dittodrop/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Content instruments the content service (never nil)
	Content metrics.ContentMetrics

	// Eviction instruments the eviction coordinator and the sweep (never nil)
	Eviction metrics.EvictionMetrics

	// HTTP instruments the HTTP adapter (never nil)
	HTTP metrics.HTTPMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// If metrics are enabled, the global Prometheus registry is initialized and
// Prometheus-backed collectors are registered on it. Otherwise no-op
// implementations are returned and no server is created.
//
// Call it once per process: collectors register on the global registry.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Content:  metrics.NewNoopContentMetrics(),
			Eviction: metrics.NewNoopEvictionMetrics(),
			HTTP:     metrics.NewNoopHTTPMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
		}),
		Content:  promMetrics.NewContentMetrics(),
		Eviction: promMetrics.NewEvictionMetrics(),
		HTTP:     promMetrics.NewHTTPMetrics(),
	}
}
