package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playgate_challenge_polls_total",
		Help: "Consent long-polls issued",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playgate_challenge_outcomes_total",
		Help: "Terminal consent challenge outcomes",
	}, []string{"outcome"})
)
