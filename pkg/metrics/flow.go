package metrics

// FlowMetrics is the domain metrics surface the flow engine records
// through. It is satisfied by flow.MetricsRecorder (pkg/flow/metrics.go);
// this package just owns the Prometheus-backed constructor so pkg/flow
// never imports prometheus directly.
type FlowMetrics interface {
	DispatchTotal(flowName, state string)
	RetransmitTotal(flowName string)
	RetransmitExhaustedTotal(flowName string)
	OutOfOrderTotal(flowName string)
	FlushErrorTotal(kind string)
	QueueDepth(queue string, depth int)
	WorkerPoolUtilization(ratio float64)
}

// newPrometheusFlowMetrics is registered by pkg/metrics/prometheus/flow.go
// during its package init, mirroring the teacher's indirection pattern to
// avoid an import cycle between metrics and metrics/prometheus.
var newPrometheusFlowMetrics func() FlowMetrics

// RegisterFlowMetricsConstructor is called by pkg/metrics/prometheus's
// init to wire its constructor into this package without a direct import.
func RegisterFlowMetricsConstructor(constructor func() FlowMetrics) {
	newPrometheusFlowMetrics = constructor
}

// NewFlowMetrics returns a Prometheus-backed FlowMetrics, or nil if
// metrics are not enabled (InitRegistry not called).
func NewFlowMetrics() FlowMetrics {
	if !IsEnabled() || newPrometheusFlowMetrics == nil {
		return nil
	}
	return newPrometheusFlowMetrics()
}
