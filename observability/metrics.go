package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for the dispatcher, backed by any
// go-utils MetricFactory.
type Metrics struct {
	EventsTriggeredTotal gu.Counter
	DeliveriesTotal      gu.Counter
	DeliveryLatency      gu.Histogram
	DLQSize              gu.Gauge
	PendingDeliveries    gu.Gauge
}

// NewMetrics creates dispatcher metric instruments using the supplied
// factory. Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsTriggeredTotal: factory.Counter("dispatch_events_triggered_total"),
		DeliveriesTotal:      factory.Counter("dispatch_deliveries_total"),
		DeliveryLatency:      factory.Histogram("dispatch_delivery_latency_seconds"),
		DLQSize:              factory.Gauge("dispatch_dlq_size"),
		PendingDeliveries:    factory.Gauge("dispatch_pending_deliveries"),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"outcome": outcome}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
