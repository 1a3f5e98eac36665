// Package metrics registers Prometheus counters for VM execution, storage
// access, and proposal lifecycle transitions against a caller-supplied
// registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the counters this module exposes. All fields are safe
// for concurrent use, matching the underlying prometheus.Counter guarantees.
type Registry struct {
	VMOpsExecuted      *prometheus.CounterVec
	VMForksCommitted   prometheus.Counter
	VMForksRolledBack  prometheus.Counter
	StorageOps         *prometheus.CounterVec
	StorageDenied      *prometheus.CounterVec
	ProposalTransitions *prometheus.CounterVec
}

// New constructs a Registry and registers every counter against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		VMOpsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covm",
			Subsystem: "vm",
			Name:      "ops_executed_total",
			Help:      "Number of VM operations executed, by op kind.",
		}, []string{"op"}),
		VMForksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "covm",
			Subsystem: "vm",
			Name:      "forks_committed_total",
			Help:      "Number of VM fork transactions committed.",
		}),
		VMForksRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "covm",
			Subsystem: "vm",
			Name:      "forks_rolled_back_total",
			Help:      "Number of VM fork transactions rolled back.",
		}),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covm",
			Subsystem: "storage",
			Name:      "ops_total",
			Help:      "Number of storage engine operations, by kind (get/set/delete).",
		}, []string{"op"}),
		StorageDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covm",
			Subsystem: "storage",
			Name:      "permission_denied_total",
			Help:      "Number of storage operations denied by CheckPermission, by namespace.",
		}, []string{"namespace"}),
		ProposalTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covm",
			Subsystem: "proposal",
			Name:      "transitions_total",
			Help:      "Number of proposal lifecycle transitions, by resulting state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.VMOpsExecuted,
		m.VMForksCommitted,
		m.VMForksRolledBack,
		m.StorageOps,
		m.StorageDenied,
		m.ProposalTransitions,
	)
	return m
}

// ObserveOp increments the VM op counter for the given op kind.
func (m *Registry) ObserveOp(op string) {
	if m == nil {
		return
	}
	m.VMOpsExecuted.WithLabelValues(op).Inc()
}

// ObserveStorageOp increments the storage op counter for the given op kind.
func (m *Registry) ObserveStorageOp(op string) {
	if m == nil {
		return
	}
	m.StorageOps.WithLabelValues(op).Inc()
}

// ObserveStorageDenied increments the permission-denied counter for a namespace.
func (m *Registry) ObserveStorageDenied(namespace string) {
	if m == nil {
		return
	}
	m.StorageDenied.WithLabelValues(namespace).Inc()
}

// ObserveForkCommit increments the committed-fork counter.
func (m *Registry) ObserveForkCommit() {
	if m == nil {
		return
	}
	m.VMForksCommitted.Inc()
}

// ObserveForkRollback increments the rolled-back-fork counter.
func (m *Registry) ObserveForkRollback() {
	if m == nil {
		return
	}
	m.VMForksRolledBack.Inc()
}

// ObserveTransition increments the proposal transition counter for a
// resulting state string (e.g. "Executed", "Rejected", "Expired").
func (m *Registry) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.ProposalTransitions.WithLabelValues(state).Inc()
}
