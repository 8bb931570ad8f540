package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastcar_triggers_total",
		Help: "Inbound chat triggers by kind and outcome",
	}, []string{"trigger", "outcome"})

	intakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastcar_intake_total",
		Help: "Document intake results by kind and outcome",
	}, []string{"kind", "outcome"})

	stageTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastcar_stage_transitions_total",
		Help: "Registration stage transitions",
	}, []string{"from", "to"})

	policiesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastcar_policies_issued_total",
		Help: "Policies issued",
	})

	collaboratorRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastcar_collaborator_retries_total",
		Help: "Retried calls to external collaborators",
	}, []string{"collaborator"})

	unitOfWorkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fastcar_unit_of_work_duration_seconds",
		Help:    "Duration of a trigger's unit of work",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"trigger"})
)

// IncTrigger counts a handled trigger.
func IncTrigger(trigger, outcome string) {
	triggersTotal.WithLabelValues(trigger, outcome).Inc()
}

// IncIntake counts an intake attempt.
func IncIntake(kind, outcome string) {
	intakeTotal.WithLabelValues(kind, outcome).Inc()
}

// IncStageTransition counts a committed stage change.
func IncStageTransition(from, to string) {
	stageTransitionsTotal.WithLabelValues(from, to).Inc()
}

// IncPolicyIssued counts an issued policy.
func IncPolicyIssued() {
	policiesIssuedTotal.Inc()
}

// IncCollaboratorRetry counts a retried collaborator call.
func IncCollaboratorRetry(name string) {
	collaboratorRetriesTotal.WithLabelValues(name).Inc()
}

// ObserveUnitOfWork records the duration of a trigger's unit of work.
// Call with time.Now() taken at the start of the unit.
func ObserveUnitOfWork(trigger string, start time.Time) {
	unitOfWorkDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
