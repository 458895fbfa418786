package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records webhook delivery outcomes per provider.
type WebhookMetrics struct {
	duration  *prometheus.HistogramVec
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duplicate *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Duration of webhook processing in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_processed",
		Help: "Webhook events applied successfully.",
	}, []string{"provider", "event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_failed",
		Help: "Webhook events whose processing failed.",
	}, []string{"provider", "event_type"})
	duplicate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicate",
		Help: "Webhook deliveries discarded as duplicates.",
	}, []string{"provider"})
	reg.MustRegister(duration, processed, failed, duplicate)
	return &WebhookMetrics{
		duration:  duration,
		processed: processed,
		failed:    failed,
		duplicate: duplicate,
	}
}

// ObserveDuration records processing time for the named provider.
func (w *WebhookMetrics) ObserveDuration(provider string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

// IncProcessed increments the processed counter.
func (w *WebhookMetrics) IncProcessed(provider, eventType string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncFailed increments the failure counter.
func (w *WebhookMetrics) IncFailed(provider, eventType string) {
	if w == nil || w.failed == nil {
		return
	}
	w.failed.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType)).Inc()
}

// IncDuplicate increments the duplicate-delivery counter.
func (w *WebhookMetrics) IncDuplicate(provider string) {
	if w == nil || w.duplicate == nil {
		return
	}
	w.duplicate.WithLabelValues(normalizeLabel(provider)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
