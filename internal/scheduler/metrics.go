package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanctuary",
		Subsystem: "scheduler",
		Name:      "jobs_total",
		Help:      "Background job runs by job name and outcome.",
	}, []string{"job", "outcome"})

	jobItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sanctuary",
		Subsystem: "scheduler",
		Name:      "job_items_total",
		Help:      "Rows processed by background jobs (deleted challenges, pruned heartbeats, fallen agents).",
	}, []string{"job"})
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)
