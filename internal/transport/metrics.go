package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playgate_transport_requests_total",
		Help: "Service calls by method and outcome",
	}, []string{"method", "outcome"})

	rateLimitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playgate_transport_rate_limit_retries_total",
		Help: "Retries scheduled in response to HTTP 429",
	})
)
