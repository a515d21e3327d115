// Package metrics provides the IsEnabled/InitRegistry gate used across
// fleetflow: metrics collection is opt-in, and every recorder constructor
// returns nil (zero overhead) until InitRegistry has been called.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var registry *prometheus.Registry

// InitRegistry creates the process-wide Prometheus registry and enables
// metrics collection. Must be called before any *Metrics constructor if
// metrics are to be collected at all.
func InitRegistry() *prometheus.Registry {
	registry = prometheus.NewRegistry()
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}

// GetRegistry returns the process-wide registry. Panics if InitRegistry
// has not been called — callers must check IsEnabled first.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		panic("metrics: GetRegistry called before InitRegistry")
	}
	return registry
}
