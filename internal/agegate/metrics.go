package agegate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playgate_agegate_checks_total",
	Help: "Age gate check verdicts",
}, []string{"status"})
