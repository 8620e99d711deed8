package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/metrics"
)

func collectOne(t *testing.T, c prometheus.Collector) *dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return &out
}

func TestRegisterWithNilRegistryIsNoOp(t *testing.T) {
	m := metrics.New()
	require.NoError(t, m.Register(nil))

	m.CacheHits.Inc()
	require.Equal(t, float64(1), collectOne(t, m.CacheHits).GetCounter().GetValue())
}

func TestRegisterAgainstRegistryExposesCollectors(t *testing.T) {
	m := metrics.New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.ActiveTransactions.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "sdb_active_transactions" {
			found = true
			require.Equal(t, float64(3), fam.GetMetric()[0].GetGauge().GetValue())
		}
	}
	require.True(t, found, "sdb_active_transactions not present in gathered families")
}

func TestRegisterTwiceOnSameRegistryFails(t *testing.T) {
	m := metrics.New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg))
}

func TestTimerObservesDuration(t *testing.T) {
	m := metrics.New()
	timer := metrics.NewTimer()
	timer.ObserveDuration(m.TxnCommitDuration)

	require.EqualValues(t, 1, collectOne(t, m.TxnCommitDuration).GetHistogram().GetSampleCount())
}
