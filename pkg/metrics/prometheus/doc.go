// Package prometheus implements the metrics interfaces with Prometheus
// collectors registered on the global registry.
//
// Every constructor returns a no-op implementation when metrics are not
// enabled (metrics.InitRegistry not called).
package prometheus

// durationBuckets covers request and operation latencies from 1ms to 30s.
var durationBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.5,   // 500ms
	1,     // 1s
	5,     // 5s
	30,    // 30s
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
