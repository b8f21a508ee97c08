package reminder

import "github.com/prometheus/client_golang/prometheus"

var (
	remindersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "licensing",
		Name:      "reminders_total",
		Help:      "License reminders processed by outcome.",
	}, []string{"result"})

	cleanedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "licensing",
		Name:      "reminder_records_cleaned_total",
		Help:      "Reminder records removed by cleanup.",
	})
)

func init() {
	prometheus.MustRegister(remindersTotal, cleanedTotal)
}
