package flow

// MetricsRecorder receives counters emitted by the dispatch pipeline. The
// default NoopMetrics discards everything; pkg/metrics/prometheus provides
// the real implementation, wired in behind its own IsEnabled() gate so the
// core never needs to know whether metrics collection is active.
type MetricsRecorder interface {
	DispatchTotal(flowName, state string)
	RetransmitTotal(flowName string)
	RetransmitExhaustedTotal(flowName string)
	OutOfOrderTotal(flowName string)
	FlushErrorTotal(kind string)
	QueueDepth(queue string, depth int)
	WorkerPoolUtilization(ratio float64)
}

// NoopMetrics implements MetricsRecorder as a no-op.
type NoopMetrics struct{}

func (NoopMetrics) DispatchTotal(string, string)     {}
func (NoopMetrics) RetransmitTotal(string)           {}
func (NoopMetrics) RetransmitExhaustedTotal(string)  {}
func (NoopMetrics) OutOfOrderTotal(string)            {}
func (NoopMetrics) FlushErrorTotal(string)            {}
func (NoopMetrics) QueueDepth(string, int)            {}
func (NoopMetrics) WorkerPoolUtilization(float64)     {}
