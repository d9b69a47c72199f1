package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the workflow endpoints.
type Metrics struct {
	Predictions    *prometheus.CounterVec
	Confirmations  prometheus.Counter
	Rejections     prometheus.Counter
	RenderWarnings prometheus.Counter
	Requests       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgx_lims",
			Name:      "predictions_total",
			Help:      "Predictor runs by assay type and match outcome.",
		}, []string{"assay_type", "matched"}),
		Confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgx_lims",
			Name:      "confirmations_total",
			Help:      "Successful confirmation slot claims.",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgx_lims",
			Name:      "rejections_total",
			Help:      "Requests moved to the rejected state.",
		}),
		RenderWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgx_lims",
			Name:      "render_warnings_total",
			Help:      "Confirmations that succeeded with a degraded report render.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgx_lims",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
	}

	reg.MustRegister(m.Predictions, m.Confirmations, m.Rejections, m.RenderWarnings, m.Requests)
	return m
}
