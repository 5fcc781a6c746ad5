package sync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LaboInfra/fob-api/internal/domain"
)

var (
	syncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fob",
		Subsystem: "quota",
		Name:      "syncs_total",
		Help:      "Count of project quota synchronization attempts",
	}, []string{"project", "result"})

	rejectionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fob",
		Subsystem: "quota",
		Name:      "sync_rejections_total",
		Help:      "Quota pushes refused by the external control plane",
	}, []string{"resource_type"})
)

func init() {
	for _, collector := range []prometheus.Collector{syncTotal, rejectionTotal} {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

func recordSync(project, result string) {
	syncTotal.WithLabelValues(project, result).Inc()
}

func recordRejection(t domain.ResourceType) {
	rejectionTotal.WithLabelValues(string(t)).Inc()
}
