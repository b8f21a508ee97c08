package license

import "github.com/prometheus/client_golang/prometheus"

var (
	activationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "licensing",
		Subsystem: "license",
		Name:      "activations_total",
		Help:      "Total license activations by result.",
	}, []string{"result"}) // "success", "replayed", InvalidFormat, KeyNotFound, KeyAlreadyUsed, Internal

	keysIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "licensing",
		Subsystem: "license",
		Name:      "keys_issued_total",
		Help:      "Total license keys issued by plan.",
	}, []string{"plan"})
)

func init() {
	prometheus.MustRegister(
		activationsTotal,
		keysIssuedTotal,
	)
}
