package gate

import "github.com/prometheus/client_golang/prometheus"

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "licensing",
	Subsystem: "gate",
	Name:      "decisions_total",
	Help:      "Total access gate outcomes by tenant access status.",
}, []string{"status"}) // access statuses plus "exempt", "not_found", "error"

func init() {
	prometheus.MustRegister(decisionsTotal)
}
