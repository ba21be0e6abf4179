package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/canopy/components"
)

func TestMetricsRecordEvents(t *testing.T) {
	m := newManager(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, m.Config().SpeciesNames())
	m.SetRecorder(metrics)

	adult, err := m.CreateTree(10, 10, 0, components.Adult, 40)
	require.NoError(t, err)
	_, err = m.CreateTree(20, 10, 0, components.Adult, 45)
	require.NoError(t, err)
	seedling, err := m.CreateTree(30, 10, 1, components.Seedling, 2)
	require.NoError(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.created.WithLabelValues("Maple", "Adult")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.created.WithLabelValues("Birch", "Seedling")))

	// diam10 2.5 lifts the seedling above its maximum height.
	tree, err := m.Tree(seedling)
	require.NoError(t, err)
	require.NoError(t, m.UpdateFloat(seedling, tree.Layout().Diam10, 2.5, true, true))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("Birch", "Seedling", "Sapling")))

	require.NoError(t, m.KillTree(adult, components.Fire))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.killed.WithLabelValues("Maple", "Adult", "fire")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.killed))
}

func TestMetricsObserveCensus(t *testing.T) {
	m := newManager(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, m.Config().SpeciesNames())

	_, err := m.CreateTree(10, 10, 0, components.Adult, 40)
	require.NoError(t, err)
	_, err = m.CreateTree(30, 30, 1, components.Sapling, 10)
	require.NoError(t, err)
	metrics.ObserveCensus(3, Census(m))

	require.Equal(t, 2, testutil.CollectAndCount(metrics.trees))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.trees.WithLabelValues("Maple", "Adult")))
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.timestep))

	// Groups that disappear are dropped on the next census.
	metrics.ObserveCensus(4, nil)
	require.Equal(t, 0, testutil.CollectAndCount(metrics.trees))
}

func TestMetricsUnknownSpecies(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry(), []string{"Maple"})
	metrics.TreeCreated(5, components.Adult)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.created.WithLabelValues("unknown", "Adult")))
}
