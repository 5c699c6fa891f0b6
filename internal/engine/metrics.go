package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/kode4food/agentflow/internal/engine"

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_dispatch_total",
		Help: "Capability dispatch attempts by kind, capability and outcome",
	}, []string{"kind", "capability", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentflow_dispatch_duration_seconds",
		Help:    "Duration of capability dispatch attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "capability"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_runs_total",
		Help: "Runs reaching a terminal state by kind and status",
	}, []string{"kind", "status"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentflow_active_runs",
		Help: "Runs currently executing",
	})

	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_feedback_writes_total",
		Help: "Example store feedback writes by outcome",
	}, []string{"outcome"})
)

var tracer = otel.Tracer(instrumentationName)
