package population

import (
	"testing"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/canopy/components"
)

func TestPopulate(t *testing.T) {
	m, _ := newTestManager(t)
	rec := &countingRecorder{}
	m.SetRecorder(rec)
	require.NoError(t, m.Populate(m.Config().InitialDensities))

	// 1 ha plot: 50 maple seedlings, 30 maple saplings, 20 hemlock trees.
	assert.Equal(t, 100, m.Count())
	assert.Equal(t, 100, rec.created)
	assert.Len(t, findAll(t, m, "species=Maple::type=Seedling"), 50)
	assert.Len(t, findAll(t, m, "species=Maple::type=Sapling"), 30)
	assert.Len(t, findAll(t, m, "species=Hemlock"), 20)

	m.Each(func(_ ecs.Entity, tree *components.Tree) {
		assert.True(t, m.Plot().Contains(tree.X(), tree.Y()))
		if tree.Species == hemlock {
			assert.Equal(t, components.Adult, tree.Stage())
			assert.GreaterOrEqual(t, tree.Diameter(), 10.0)
			assert.LessOrEqual(t, tree.Diameter(), 40.0)
		}
	})
}

func TestPopulateIsReproducible(t *testing.T) {
	positions := func() [][2]float64 {
		m, _ := newTestManager(t)
		require.NoError(t, m.Populate(m.Config().InitialDensities))
		var out [][2]float64
		s, err := m.Find("all")
		require.NoError(t, err)
		for e, ok := s.NextTree(); ok; e, ok = s.NextTree() {
			tree := mustTree(t, m, e)
			out = append(out, [2]float64{tree.X(), tree.Y()})
		}
		return out
	}
	assert.Equal(t, positions(), positions())
}
