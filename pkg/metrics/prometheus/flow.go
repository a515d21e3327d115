package prometheus

import (
	"github.com/marmos91/fleetflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// flowMetrics is the Prometheus implementation of metrics.FlowMetrics.
type flowMetrics struct {
	dispatchTotal           *prometheus.CounterVec
	retransmitTotal         *prometheus.CounterVec
	retransmitExhaustedTotal *prometheus.CounterVec
	outOfOrderTotal         *prometheus.CounterVec
	flushErrorTotal         *prometheus.CounterVec
	queueDepth              *prometheus.GaugeVec
	workerPoolUtilization   prometheus.Gauge
}

func init() {
	metrics.RegisterFlowMetricsConstructor(func() metrics.FlowMetrics {
		return newFlowMetrics()
	})
}

func newFlowMetrics() *flowMetrics {
	reg := metrics.GetRegistry()

	return &flowMetrics{
		dispatchTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetflow_dispatch_total",
				Help: "Total number of state dispatches by flow name and state",
			},
			[]string{"flow_name", "state"},
		),
		retransmitTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetflow_retransmit_total",
				Help: "Total number of requests re-queued after an incomplete response gap",
			},
			[]string{"flow_name"},
		),
		retransmitExhaustedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetflow_retransmit_exhausted_total",
				Help: "Total number of requests abandoned after exceeding the retransmit limit",
			},
			[]string{"flow_name"},
		),
		outOfOrderTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetflow_out_of_order_total",
				Help: "Total number of out-of-order request ids observed by ordered flows",
			},
			[]string{"flow_name"},
		),
		flushErrorTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetflow_flush_error_total",
				Help: "Total number of errors returned by FlowStore flush while publishing outbound requests (data-store errors swallowed by flush are not counted)",
			},
			[]string{"kind"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleetflow_queue_depth",
				Help: "Number of pending session notifications per worker queue",
			},
			[]string{"queue"},
		),
		workerPoolUtilization: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetflow_hunt_worker_pool_utilization",
				Help: "Fraction of hunt worker-pool goroutines currently busy",
			},
		),
	}
}

func (m *flowMetrics) DispatchTotal(flowName, state string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(flowName, state).Inc()
}

func (m *flowMetrics) RetransmitTotal(flowName string) {
	if m == nil {
		return
	}
	m.retransmitTotal.WithLabelValues(flowName).Inc()
}

func (m *flowMetrics) RetransmitExhaustedTotal(flowName string) {
	if m == nil {
		return
	}
	m.retransmitExhaustedTotal.WithLabelValues(flowName).Inc()
}

func (m *flowMetrics) OutOfOrderTotal(flowName string) {
	if m == nil {
		return
	}
	m.outOfOrderTotal.WithLabelValues(flowName).Inc()
}

func (m *flowMetrics) FlushErrorTotal(kind string) {
	if m == nil {
		return
	}
	m.flushErrorTotal.WithLabelValues(kind).Inc()
}

func (m *flowMetrics) QueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *flowMetrics) WorkerPoolUtilization(ratio float64) {
	if m == nil {
		return
	}
	m.workerPoolUtilization.Set(ratio)
}
