package update

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	posted  prometheus.Counter
	deleted prometheus.Counter
	pinned  *prometheus.CounterVec
}

// NewMetrics registers the feed counters with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		posted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "membership",
			Subsystem: "feed",
			Name:      "posts_total",
			Help:      "Updates posted to the feed.",
		}),
		deleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "membership",
			Subsystem: "feed",
			Name:      "deletes_total",
			Help:      "Updates deleted from the feed.",
		}),
		pinned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membership",
			Subsystem: "feed",
			Name:      "pin_changes_total",
			Help:      "Pin toggles by resulting state.",
		}, []string{"pinned"}),
	}
}
