package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensoragent_rows_sent_total",
		Help: "Total rows successfully committed to the streaming channel.",
	})
	appendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensoragent_append_errors_total",
		Help: "Total append failures, by classification.",
	}, []string{"class"})
	appendLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensoragent_append_latency_seconds",
		Help:    "Latency of a single append HTTP round trip.",
		Buckets: prometheus.DefBuckets,
	})
)
