package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopMetricsDoNotCollide(t *testing.T) {
	// Each nop instance lives on its own throwaway registry, so several
	// components constructed without metrics can coexist in one process.
	assert.NotPanics(t, func() {
		a := NewNopMetrics()
		b := NewNopMetrics()
		a.TasksEnqueued.WithLabelValues("charge").Inc()
		b.TasksEnqueued.WithLabelValues("charge").Inc()
	})
}

func TestNewMetricsOnRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsOn(reg, "test")
	m.WalletCredits.WithLabelValues("deposit").Add(500)

	assert.Equal(t, float64(500), testutil.ToFloat64(m.WalletCredits.WithLabelValues("deposit")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_core_wallet_credit_cents")
}
