package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moxind",
			Subsystem: "backend",
			Name:      "commands_total",
			Help:      "Commands accepted by the sink",
		},
		[]string{"kind"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "moxind",
			Subsystem: "backend",
			Name:      "command_duration_seconds",
			Help:      "Time from dispatch until the handler closed the reply",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(commandsTotal, commandDuration)
}
