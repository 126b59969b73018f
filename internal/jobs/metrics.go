package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pccf",
		Subsystem: "jobs",
		Name:      "started_total",
		Help:      "Jobs accepted, by kind.",
	}, []string{"kind"})
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pccf",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Jobs finished, by kind and final status.",
	}, []string{"kind", "status"})
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pccf",
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Jobs currently running.",
	})
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pccf",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Time from start to finish of a job.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind"})
)
