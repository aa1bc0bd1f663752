// Package metrics registers the Prometheus collectors for the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseTransitions counts committed cycle phase changes.
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupbuy_phase_transitions_total",
		Help: "Committed order-cycle phase transitions.",
	}, []string{"from", "to"})

	// WebhookEvents counts webhook deliveries by event type and outcome.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupbuy_webhook_events_total",
		Help: "Gateway webhook deliveries by event and outcome.",
	}, []string{"event", "result"})

	// GatewayCalls counts outbound gateway operations by result.
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupbuy_gateway_calls_total",
		Help: "Outbound payment gateway calls.",
	}, []string{"op", "result"})

	// SignatureFailures counts rejected payment or webhook signatures.
	// Security signal: should be zero in healthy operation.
	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupbuy_signature_failures_total",
		Help: "HMAC signature verification failures.",
	})

	// EventsDispatched counts domain events handed to notification sinks.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupbuy_events_dispatched_total",
		Help: "Domain events dispatched to notification sinks.",
	}, []string{"type", "result"})
)
