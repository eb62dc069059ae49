package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound provider notifications by how the replay
// gate resolved them.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Inbound webhook deliveries by provider and result.",
	}, []string{"provider", "result"})
	reg.MustRegister(deliveries)
	return &WebhookMetrics{deliveries: deliveries}
}

// Observe records one delivery. result is entered, already_processed,
// processing_by_other or an error code.
func (w *WebhookMetrics) Observe(provider, result string) {
	if w == nil || w.deliveries == nil {
		return
	}
	w.deliveries.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}
