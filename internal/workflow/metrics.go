package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playgate_workflow_transitions_total",
	Help: "Workflow state transitions, labelled by the state entered",
}, []string{"state"})
