package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream orchestrator.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	streamsStartedTotal   prometheus.Counter
	streamsEndedTotal     prometheus.Counter
	forwardsStartedTotal  prometheus.Counter
	forwardsStoppedTotal  prometheus.Counter
	samplesTotal          prometheus.Counter
	probeFailuresTotal    prometheus.Counter
	lowBitrateAlertsTotal prometheus.Counter
	activeStreams         prometheus.Gauge
	activeForwards        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the orchestrator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	streamsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_streams_started_total",
		Help: "Total number of stream sessions created",
	})
	streamsEndedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_streams_ended_total",
		Help: "Total number of stream sessions destroyed",
	})
	forwardsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_forwards_started_total",
		Help: "Total number of forwarding relays started",
	})
	forwardsStoppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_forwards_stopped_total",
		Help: "Total number of forwarding relays stopped by request",
	})
	samplesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_metric_samples_total",
		Help: "Total number of quality metric samples taken",
	})
	probeFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_probe_failures_total",
		Help: "Total number of failed introspection probes",
	})
	lowBitrateAlertsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_low_bitrate_alerts_total",
		Help: "Total number of low-bitrate alerts raised",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp_active_streams",
		Help: "Number of currently live stream sessions",
	})
	activeForwards := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp_active_forwards",
		Help: "Number of currently active forwarding relays",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		streamsStartedTotal,
		streamsEndedTotal,
		forwardsStartedTotal,
		forwardsStoppedTotal,
		samplesTotal,
		probeFailuresTotal,
		lowBitrateAlertsTotal,
		activeStreams,
		activeForwards,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		errorsTotal:           errorsTotal,
		streamsStartedTotal:   streamsStartedTotal,
		streamsEndedTotal:     streamsEndedTotal,
		forwardsStartedTotal:  forwardsStartedTotal,
		forwardsStoppedTotal:  forwardsStoppedTotal,
		samplesTotal:          samplesTotal,
		probeFailuresTotal:    probeFailuresTotal,
		lowBitrateAlertsTotal: lowBitrateAlertsTotal,
		activeStreams:         activeStreams,
		activeForwards:        activeForwards,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncStreamsStarted increments the streams started counter.
func (m *Metrics) IncStreamsStarted() {
	m.streamsStartedTotal.Inc()
}

// IncStreamsEnded increments the streams ended counter.
func (m *Metrics) IncStreamsEnded() {
	m.streamsEndedTotal.Inc()
}

// IncForwardsStarted increments the forwards started counter.
func (m *Metrics) IncForwardsStarted() {
	m.forwardsStartedTotal.Inc()
}

// IncForwardsStopped increments the forwards stopped counter.
func (m *Metrics) IncForwardsStopped() {
	m.forwardsStoppedTotal.Inc()
}

// IncSamples increments the metric samples counter.
func (m *Metrics) IncSamples() {
	m.samplesTotal.Inc()
}

// IncProbeFailures increments the probe failures counter.
func (m *Metrics) IncProbeFailures() {
	m.probeFailuresTotal.Inc()
}

// IncLowBitrateAlerts increments the low-bitrate alerts counter.
func (m *Metrics) IncLowBitrateAlerts() {
	m.lowBitrateAlertsTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// SetActiveForwards sets the active forwards gauge.
func (m *Metrics) SetActiveForwards(n int) {
	m.activeForwards.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
