package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOp("push")
	m.ObserveOp("push")
	m.ObserveStorageOp("get")
	m.ObserveStorageDenied("governance")
	m.ObserveTransition("Executed")
	m.ObserveForkCommit()
	m.ObserveForkRollback()

	require.Equal(t, float64(2), counterValue(t, m.VMOpsExecuted.WithLabelValues("push")))
	require.Equal(t, float64(1), counterValue(t, m.StorageOps.WithLabelValues("get")))
	require.Equal(t, float64(1), counterValue(t, m.StorageDenied.WithLabelValues("governance")))
	require.Equal(t, float64(1), counterValue(t, m.ProposalTransitions.WithLabelValues("Executed")))
	require.Equal(t, float64(1), counterValue(t, m.VMForksCommitted))
	require.Equal(t, float64(1), counterValue(t, m.VMForksRolledBack))
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var m *Registry
	require.NotPanics(t, func() {
		m.ObserveOp("push")
		m.ObserveStorageOp("get")
		m.ObserveStorageDenied("governance")
		m.ObserveTransition("Executed")
		m.ObserveForkCommit()
		m.ObserveForkRollback()
	})
}
