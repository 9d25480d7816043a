package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingMessages *prometheus.CounterVec
	TGOutgoingMessages *prometheus.CounterVec
	LedgerOperations   *prometheus.CounterVec
	LookupRequests     *prometheus.CounterVec
	LookupLatency      *prometheus.HistogramVec
	GateDecisions      *prometheus.CounterVec
	FlowTransitions    *prometheus.CounterVec
	BroadcastDelivery  *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_messages_total",
				Help:      "Total incoming Telegram messages processed.",
			}, []string{"type"}),
			TGOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_messages_total",
				Help:      "Total outgoing Telegram API calls by method and status.",
			}, []string{"method", "status"}),
			LedgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Credit ledger operations by operation and result.",
			}, []string{"op", "result"}),
			LookupRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_requests_total",
				Help:      "Total number lookup API requests by outcome.",
			}, []string{"status"}),
			LookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lookup_request_duration_seconds",
				Help:      "Latency distribution for number lookup API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_gate_decisions_total",
				Help:      "Channel membership gate decisions.",
			}, []string{"decision"}),
			FlowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_transitions_total",
				Help:      "Conversation flow transitions by flow and outcome.",
			}, []string{"flow", "outcome"}),
			BroadcastDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcast_deliveries_total",
				Help:      "Broadcast deliveries by result.",
			}, []string{"result"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingMessages,
			metricsInstance.TGOutgoingMessages,
			metricsInstance.LedgerOperations,
			metricsInstance.LookupRequests,
			metricsInstance.LookupLatency,
			metricsInstance.GateDecisions,
			metricsInstance.FlowTransitions,
			metricsInstance.BroadcastDelivery,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
