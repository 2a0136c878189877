package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Datagram metrics
	DatagramsReceived prometheus.Counter
	CommandsReceived  prometheus.Counter
	PayloadsReceived  prometheus.Counter
	ProtocolErrors    *prometheus.CounterVec

	// Registry metrics
	GroupsCreated   prometheus.Counter
	GroupsReaped    prometheus.Counter
	ClientsEvicted  prometheus.Counter
	ActiveClients   prometheus.Gauge
	ActiveGroups    prometheus.Gauge

	// Broadcast metrics
	BroadcastsSent     prometheus.Counter
	BroadcastRecipients prometheus.Counter

	// Sweeper metrics
	SweepDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against reg. Production code
// passes prometheus.DefaultRegisterer; tests that construct more than one Metrics in
// the same process pass a fresh prometheus.NewRegistry() to avoid duplicate
// registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		CommandsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_commands_received_total",
			Help: "Total number of datagrams classified as commands",
		}),
		PayloadsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_payloads_received_total",
			Help: "Total number of datagrams classified as broadcast payloads",
		}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_protocol_errors_total",
			Help: "Total number of ERR replies sent, by error code",
		}, []string{"code"}),

		GroupsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_groups_created_total",
			Help: "Total number of groups created",
		}),
		GroupsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_groups_reaped_total",
			Help: "Total number of groups reaped by the sweeper",
		}),
		ClientsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_clients_evicted_total",
			Help: "Total number of clients evicted for inactivity",
		}),
		ActiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_clients",
			Help: "Current number of known clients",
		}),
		ActiveGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_groups",
			Help: "Current number of live groups",
		}),

		BroadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcasts_sent_total",
			Help: "Total number of broadcast payloads relayed",
		}),
		BroadcastRecipients: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcast_recipients_total",
			Help: "Total number of recipient deliveries across all broadcasts",
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_sweep_duration_seconds",
			Help:    "Duration of sweeper passes",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~25s
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of monitoring HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of monitoring HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of monitoring HTTP error responses",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagram records a received datagram and its classification.
func (m *Metrics) RecordDatagram(isCommand bool) {
	m.DatagramsReceived.Inc()
	if isCommand {
		m.CommandsReceived.Inc()
	} else {
		m.PayloadsReceived.Inc()
	}
}

// RecordProtocolError records an ERR reply by code.
func (m *Metrics) RecordProtocolError(code string) {
	m.ProtocolErrors.WithLabelValues(code).Inc()
}

// RecordGroupCreated increments the groups created counter.
func (m *Metrics) RecordGroupCreated() {
	m.GroupsCreated.Inc()
}

// RecordGroupsReaped adds n to the groups reaped counter.
func (m *Metrics) RecordGroupsReaped(n int) {
	if n > 0 {
		m.GroupsReaped.Add(float64(n))
	}
}

// RecordClientsEvicted adds n to the clients evicted counter.
func (m *Metrics) RecordClientsEvicted(n int) {
	if n > 0 {
		m.ClientsEvicted.Add(float64(n))
	}
}

// SetActiveClients sets the current known-client gauge.
func (m *Metrics) SetActiveClients(count int) {
	m.ActiveClients.Set(float64(count))
}

// SetActiveGroups sets the current live-group gauge.
func (m *Metrics) SetActiveGroups(count int) {
	m.ActiveGroups.Set(float64(count))
}

// RecordBroadcast records one broadcast payload fanned out to recipients.
func (m *Metrics) RecordBroadcast(recipients int) {
	m.BroadcastsSent.Inc()
	m.BroadcastRecipients.Add(float64(recipients))
}

// RecordSweepDuration records the wall-clock duration of one sweeper pass.
func (m *Metrics) RecordSweepDuration(seconds float64) {
	m.SweepDuration.Observe(seconds)
}

// RecordHTTPRequest records a monitoring HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records a monitoring HTTP error response.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
