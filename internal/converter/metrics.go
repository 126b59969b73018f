package converter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pccf",
		Subsystem: "converter",
		Name:      "lines_total",
		Help:      "Input lines read by the converter.",
	})
	rowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pccf",
		Subsystem: "converter",
		Name:      "rows_written_total",
		Help:      "Rows written to converted output, header excluded.",
	})
	problemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pccf",
		Subsystem: "converter",
		Name:      "problems_total",
		Help:      "Input lines with a problem, by kind and outcome.",
	}, []string{"kind", "outcome"})
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pccf",
		Subsystem: "converter",
		Name:      "runs_total",
		Help:      "Conversion runs by result.",
	}, []string{"result"})
)

func recordMetrics(s *Stats, err error) {
	linesTotal.Add(float64(s.Lines))
	rowsWrittenTotal.Add(float64(s.Written))
	if s.InvalidSkipped > 0 {
		problemsTotal.WithLabelValues("encoding", "skipped").Add(float64(s.InvalidSkipped))
	}
	if s.ShortSkipped > 0 {
		problemsTotal.WithLabelValues("short", "skipped").Add(float64(s.ShortSkipped))
	}
	if s.Padded > 0 {
		problemsTotal.WithLabelValues("short", "padded").Add(float64(s.Padded))
	}
	if s.Long > 0 {
		problemsTotal.WithLabelValues("long", "truncated").Add(float64(s.Long))
	}
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return
	}
	runsTotal.WithLabelValues("ok").Inc()
}
