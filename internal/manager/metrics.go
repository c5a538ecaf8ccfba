package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moxind",
			Subsystem: "manager",
			Name:      "model_loads_total",
			Help:      "Model loads by result",
		},
		[]string{"result"},
	)

	modelEjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "moxind",
			Subsystem: "manager",
			Name:      "model_ejects_total",
			Help:      "Models unloaded",
		},
	)

	chatCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moxind",
			Subsystem: "manager",
			Name:      "chat_completions_total",
			Help:      "Successful chat completions by stop reason",
		},
		[]string{"stop_reason"},
	)

	chatErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "moxind",
			Subsystem: "manager",
			Name:      "chat_errors_total",
			Help:      "Failed chat calls by error kind",
		},
		[]string{"kind"},
	)

	chatTokensPerSecond = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "moxind",
			Subsystem: "manager",
			Name:      "chat_tokens_per_second",
			Help:      "Generation speed of completed chats",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		},
	)
)

func init() {
	prometheus.MustRegister(modelLoadsTotal, modelEjectsTotal, chatCompletionsTotal, chatErrorsTotal, chatTokensPerSecond)
}
