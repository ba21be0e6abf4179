package population

import (
	"errors"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/simerr"
)

func TestKillHarvestMakesStump(t *testing.T) {
	m, ghosts := newTestManager(t)
	e, err := m.CreateTree(10, 10, maple, components.Adult, 40)
	require.NoError(t, err)
	dbh := floatAttr(t, mustTree(t, m, e), components.LabelDBH)

	require.NoError(t, m.KillTree(e, components.Harvest))
	tree := mustTree(t, m, e)
	assert.Equal(t, components.Stump, tree.Stage())
	assert.Equal(t, dbh, floatAttr(t, tree, components.LabelDBH))
	assert.Equal(t, 10.0, tree.X())
	assert.False(t, m.Index().Indexed(e))
	assert.Contains(t, m.Stumps(), e)
	assert.Empty(t, findAll(t, m, "all"))

	require.Len(t, ghosts.Ghosts(), 1)
	g := ghosts.Ghosts()[0]
	assert.Equal(t, components.Adult, g.Stage, "archived before conversion")
	assert.Equal(t, components.Harvest, g.Reason)
	assert.Equal(t, dbh, g.Diameter)

	m.EndOfTimestepCleanup()
	_, err = m.Tree(e)
	assert.True(t, errors.Is(err, simerr.ErrBadData))
	assert.Empty(t, m.Stumps())
	assert.Equal(t, 0, m.Count())
}

func TestKillNaturalMakesSnag(t *testing.T) {
	m, ghosts := newTestManager(t)
	e, err := m.CreateTree(10, 10, maple, components.Adult, 40)
	require.NoError(t, err)
	height := mustTree(t, m, e).Height()
	_, err = m.CrownRadius(e)
	require.NoError(t, err)

	require.NoError(t, m.KillTree(e, components.Storm))
	tree := mustTree(t, m, e)
	l := tree.Layout()
	assert.Equal(t, components.Snag, tree.Stage())
	assert.Equal(t, height, tree.Height())
	assert.True(t, m.Index().Indexed(e))
	age, err := tree.Int(l.Age)
	require.NoError(t, err)
	assert.Equal(t, 0, age)
	why, err := tree.Int(l.WhyDead)
	require.NoError(t, err)
	assert.Equal(t, int(components.Storm), why)
	assert.Equal(t, 1, ghosts.Len())

	_, err = m.CrownRadius(e)
	require.NoError(t, err)
	m.EndOfTimestepCleanup()
	tree = mustTree(t, m, e)
	age, _ = tree.Int(l.Age)
	assert.Equal(t, 5, age)
	assert.Equal(t, -1.0, floatAttr(t, tree, components.LabelCrownRadius))
	assert.Equal(t, -1.0, floatAttr(t, tree, components.LabelCrownDepth))

	m.EndOfTimestepCleanup()
	age, _ = mustTree(t, m, e).Int(l.Age)
	assert.Equal(t, 10, age)

	// A snag that dies again is removed.
	require.NoError(t, m.KillTree(e, components.Natural))
	assert.False(t, m.Index().Indexed(e))
	_, err = m.Tree(e)
	assert.Error(t, err)
	assert.Equal(t, 2, ghosts.Len())
}

func TestKillRemoves(t *testing.T) {
	tests := []struct {
		name    string
		species int
		stage   components.Stage
		size    float64
		reason  components.DeathReason
	}{
		{"species without snags", hemlock, components.Adult, 30, components.Natural},
		{"species without stumps", hemlock, components.Adult, 30, components.Harvest},
		{"harvested sapling", maple, components.Sapling, 5, components.Harvest},
		{"seedling natural", maple, components.Seedling, 0.1, components.Disease},
		{"adult removed", maple, components.Adult, 40, components.RemoveTree},
		{"adult fire", hemlock, components.Adult, 30, components.Fire},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ghosts := newTestManager(t)
			keep, err := m.CreateTree(40, 40, tt.species, tt.stage, tt.size)
			require.NoError(t, err)
			e, err := m.CreateTree(40, 40, tt.species, tt.stage, tt.size)
			require.NoError(t, err)

			require.NoError(t, m.KillTree(e, tt.reason))
			_, err = m.Tree(e)
			assert.Error(t, err)
			assert.Empty(t, m.Stumps())
			assert.Equal(t, 1, ghosts.Len())
			assert.Equal(t, []ecs.Entity{keep}, findAll(t, m, "all"))
		})
	}
}

func TestKillRejects(t *testing.T) {
	m, ghosts := newTestManager(t)
	e, err := m.CreateTree(10, 10, maple, components.Adult, 40)
	require.NoError(t, err)

	assert.True(t, errors.Is(m.KillTree(e, components.NotDead), simerr.ErrBadData))
	assert.True(t, errors.Is(m.KillTree(e, components.DeathReason(99)), simerr.ErrBadData))
	assert.Equal(t, 0, ghosts.Len())

	require.NoError(t, m.KillTree(e, components.RemoveTree))
	assert.True(t, errors.Is(m.KillTree(e, components.RemoveTree), simerr.ErrBadData))
}

func TestKillStumpRemovesFromList(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.CreateTree(1, 1, maple, components.Stump, 20)
	require.NoError(t, err)
	require.NoError(t, m.KillTree(s, components.RemoveTree))
	assert.Empty(t, m.Stumps())
	assert.Equal(t, 0, m.Count())
}

func TestKillDuringSearch(t *testing.T) {
	m, ghosts := newTestManager(t)
	for i := range 20 {
		_, err := m.CreateTree(float64(i)*5, 50, hemlock, components.Adult, 15+float64(i))
		require.NoError(t, err)
	}
	s, err := m.Find("type=Adult")
	require.NoError(t, err)
	n := 0
	for e, ok := s.NextTree(); ok; e, ok = s.NextTree() {
		require.NoError(t, m.KillTree(e, components.Natural))
		n++
	}
	assert.Equal(t, 20, n)
	assert.Equal(t, 20, ghosts.Len())
	assert.Equal(t, 0, m.Count())
}

func TestCleanupInvalidatesSearches(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateTree(10, 10, maple, components.Adult, 40)
	require.NoError(t, err)
	s, err := m.Find("all")
	require.NoError(t, err)

	m.EndOfTimestepCleanup()
	assert.False(t, s.Valid())
	_, ok := s.NextTree()
	assert.False(t, ok)
	assert.Equal(t, 1, m.Timestep())
}
