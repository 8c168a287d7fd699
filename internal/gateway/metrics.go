package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound gateway calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Outbound gateway call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhooks_total",
			Help: "Inbound webhooks by provider and parse outcome",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(webhooksTotal)
}

func outcomeLabel(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *TransportError:
		return "transport_error"
	case *AuthError:
		return "auth_error"
	case *ValidationError:
		return "validation_error"
	case *WebhookShapeError:
		return "shape_error"
	case *InvalidPayeeKeyError:
		return "invalid_payee"
	}
	if err == ErrInvalidSignature {
		return "bad_signature"
	}
	return "error"
}
