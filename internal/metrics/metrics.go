// Package metrics counts classifications, webhooks and MQTT publishes and
// serves them in the Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaberg/fueltrim-hass/internal/fueltrim"
)

const (
	classificationsName = "fueltrim_classifications_total"
	webhooksName        = "fueltrim_webhooks_total"
	publishesName       = "fueltrim_mqtt_publishes_total"
)

// Webhook results.
const (
	WebhookAccepted = "accepted"
	WebhookIgnored  = "ignored"
	WebhookInvalid  = "invalid"
)

// Registry holds the bridge's counters on its own Prometheus registry. Call New.
type Registry struct {
	reg             *prometheus.Registry
	classifications *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	publishes       *prometheus.CounterVec
}

// New returns a registry with every counter registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: classificationsName,
			Help: "Fuel trim readings classified, by source and status.",
		}, []string{"source", "status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: webhooksName,
			Help: "Traccar webhook requests, by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: publishesName,
			Help: "MQTT publishes, by component and result.",
		}, []string{"component", "result"}),
	}
	r.reg.MustRegister(r.classifications, r.webhooks, r.publishes)
	return r
}

// Observe counts one classification produced by source.
func (r *Registry) Observe(source string, status fueltrim.Status) {
	r.classifications.WithLabelValues(source, status.String()).Inc()
}

// IncWebhook counts one webhook request by result.
func (r *Registry) IncWebhook(result string) {
	r.webhooks.WithLabelValues(result).Inc()
}

// ObservePublish counts one MQTT publish by component and outcome.
func (r *Registry) ObservePublish(component string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.publishes.WithLabelValues(component, result).Inc()
}

// Gather snapshots the counters that have at least one sample, sorted by name.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// Handler serves the counters as Prometheus text.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
