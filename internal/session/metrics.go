package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	savesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playgate_session_saves_total",
		Help: "Session blobs persisted",
	})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playgate_session_refreshes_total",
		Help: "Conditional session refresh results",
	}, []string{"result"})
)
