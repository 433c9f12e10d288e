package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AssignmentsTotal tracks new variant assignments
	AssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitclass_assignments_total",
			Help: "Total number of new variant assignments created",
		},
		[]string{"test_id", "variant"},
	)

	// GateExclusionsTotal tracks requests rejected by the traffic gate
	GateExclusionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitclass_gate_exclusions_total",
			Help: "Total number of assignment requests excluded by the traffic gate",
		},
		[]string{"test_id"},
	)

	// InactiveExclusionsTotal tracks assignment requests against tests that
	// are missing or not running
	InactiveExclusionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitclass_inactive_exclusions_total",
			Help: "Total number of assignment requests against missing or non-running tests",
		},
		[]string{"reason"},
	)

	// ConversionsTotal tracks recorded conversion events
	ConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitclass_conversions_total",
			Help: "Total number of conversion events recorded",
		},
		[]string{"test_id", "metric"},
	)

	// UnattributedConversionsTotal tracks conversions dropped for lack of an
	// assignment
	UnattributedConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitclass_unattributed_conversions_total",
			Help: "Total number of conversion events discarded because the identity was never assigned",
		},
		[]string{"test_id"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(GateExclusionsTotal)
	prometheus.MustRegister(InactiveExclusionsTotal)
	prometheus.MustRegister(ConversionsTotal)
	prometheus.MustRegister(UnattributedConversionsTotal)
}
