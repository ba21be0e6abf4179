package systems

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/simerr"
)

func TestParseQuery(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		query string
		check func(t *testing.T, q Query)
	}{
		{"all", "all", func(t *testing.T, q Query) {
			assert.Nil(t, q.Species)
			assert.Zero(t, q.Types)
			assert.False(t, q.HasHeight || q.HasDistance)
		}},
		{"species codes and names", "species=0,Birch", func(t *testing.T, q Query) {
			assert.Equal(t, []bool{true, false, true}, q.Species)
		}},
		{"type mask", "type=3,Snag", func(t *testing.T, q Query) {
			assert.Equal(t, components.Adult.Bit()|components.Snag.Bit(), q.Types)
		}},
		{"height", "height=1.35", func(t *testing.T, q Query) {
			assert.True(t, q.HasHeight)
			assert.Equal(t, 1.35, q.MinHeight)
		}},
		{"distance", "distance=10 FROM x=5 y=6.5", func(t *testing.T, q Query) {
			assert.True(t, q.HasDistance)
			assert.Equal(t, 10.0, q.Distance)
			assert.Equal(t, 5.0, q.X)
			assert.Equal(t, 6.5, q.Y)
		}},
		{"distance comma origin", "distance=3 from x=1,y=2", func(t *testing.T, q Query) {
			assert.Equal(t, 1.0, q.X)
			assert.Equal(t, 2.0, q.Y)
		}},
		{"combined", "species=1::type=Sapling,Adult::height=4::distance=8 FROM x=50 y=50", func(t *testing.T, q Query) {
			assert.Equal(t, []bool{false, true, false}, q.Species)
			assert.Equal(t, components.Sapling.Bit()|components.Adult.Bit(), q.Types)
			assert.True(t, q.HasHeight && q.HasDistance)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.query, f.reg)
			require.NoError(t, err)
			tt.check(t, q)
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	f := newFixture(t)
	for _, query := range []string{
		"",
		"colour=red",
		"species=",
		"species=7",
		"species=Oak",
		"type=tree",
		"height=tall",
		"distance=ten FROM x=1 y=1",
		"distance=-1 FROM x=1 y=1",
		"distance=5 x=1 y=1",
		"distance=5 FROM x=1 z=1",
		"species=0::species=1",
		"nonsense",
	} {
		t.Run(query, func(t *testing.T) {
			_, err := ParseQuery(query, f.reg)
			assert.True(t, errors.Is(err, simerr.ErrBadData), "got %v", err)
		})
	}
}

func ids(es []ecs.Entity) map[ecs.Entity]bool {
	out := make(map[ecs.Entity]bool, len(es))
	for _, e := range es {
		out[e] = true
	}
	return out
}

func TestFindSpeciesAndType(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	rng := rand.New(rand.NewPCG(11, 12))
	stages := []components.Stage{components.Seedling, components.Sapling, components.Adult, components.Snag}

	want := map[ecs.Entity]bool{}
	for range 200 {
		sp := rng.IntN(3)
		stage := stages[rng.IntN(len(stages))]
		e := f.add(t, sp, stage, rng.Float64()*100, rng.Float64()*100, rng.Float64()*40)
		if stage == components.Adult && sp <= 1 {
			want[e] = true
		}
	}

	s, err := finder.Find("species=0,1::type=3")
	require.NoError(t, err)
	got := s.All()
	assert.Len(t, got, len(want))
	assert.Equal(t, want, ids(got))
}

func TestFindHeightAndDistance(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	rng := rand.New(rand.NewPCG(5, 9))

	var all []ecs.Entity
	for range 300 {
		all = append(all, f.add(t, rng.IntN(3), components.Adult, rng.Float64()*100, rng.Float64()*100, rng.Float64()*40))
	}

	s, err := finder.Find("height=20")
	require.NoError(t, err)
	want := map[ecs.Entity]bool{}
	for _, e := range all {
		if f.trees.Get(e).Height() >= 20 {
			want[e] = true
		}
	}
	assert.Equal(t, want, ids(s.All()))

	// Origin near a corner so the radius wraps on both axes.
	s, err = finder.Find("distance=15 FROM x=2 y=97")
	require.NoError(t, err)
	want = map[ecs.Entity]bool{}
	for _, e := range all {
		tree := f.trees.Get(e)
		if f.plot.Distance(2, 97, tree.X(), tree.Y()) <= 15 {
			want[e] = true
		}
	}
	assert.NotEmpty(t, want)
	assert.Equal(t, want, ids(s.All()))

	// A radius larger than the plot visits each tree once.
	s, err = finder.Find("distance=500 FROM x=50 y=50")
	require.NoError(t, err)
	got := s.All()
	assert.Len(t, got, len(all))
	assert.Len(t, ids(got), len(all))

	_, err = finder.Find("distance=5 FROM x=150 y=5")
	assert.True(t, errors.Is(err, simerr.ErrBadData))
}

func TestFindDistanceAcrossNarrowEdgeCell(t *testing.T) {
	// 100 m over 8 m cells leaves a 4 m last column and row.
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	e := f.add(t, 0, components.Adult, 95, 50, 10)

	s, err := finder.Find("distance=7.9 FROM x=0.5 y=50")
	require.NoError(t, err)
	assert.Equal(t, []ecs.Entity{e}, s.All())

	rng := rand.New(rand.NewPCG(11, 3))
	all := []ecs.Entity{e}
	for range 300 {
		all = append(all, f.add(t, 0, components.Adult, rng.Float64()*100, rng.Float64()*100, 10))
	}
	for _, origin := range [][2]float64{{0.5, 50}, {99.5, 0.2}, {96.2, 95}, {50, 3.9}} {
		for _, d := range []float64{3, 7.9, 12.5, 49.9} {
			want := map[ecs.Entity]bool{}
			for _, e := range all {
				tree := f.trees.Get(e)
				if f.plot.Distance(origin[0], origin[1], tree.X(), tree.Y()) <= d {
					want[e] = true
				}
			}
			s, err := finder.FindQuery(Query{HasDistance: true, Distance: d, X: origin[0], Y: origin[1]})
			require.NoError(t, err)
			got := s.All()
			assert.Equal(t, want, ids(got), "origin %v distance %g", origin, d)
			assert.Len(t, got, len(want))
		}
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		name   string
		center float64
		d      float64
		want   []int
	}{
		{"inside", 50, 3, []int{5, 6}},
		{"wraps low", 0.5, 7.9, []int{11, 12, 0, 1}},
		{"wraps high", 99, 2, []int{12, 0}},
		{"nearly whole axis", 3, 48.5, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		{"whole axis", 50, 50, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, span(tt.center, tt.d, 100, 8, 13))
		})
	}
}

func TestSearchResortsBeforeEachCell(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	tall := f.add(t, 0, components.Adult, 4, 4, 25)
	grown := f.add(t, 0, components.Adult, 4, 12, 2)

	s, err := finder.Find("height=20")
	require.NoError(t, err)
	e, ok := s.NextTree()
	require.True(t, ok)
	require.Equal(t, tall, e)

	// A deferred update made part-way through the search.
	f.setHeight(t, grown, 30)
	f.idx.MarkDirty()

	e, ok = s.NextTree()
	require.True(t, ok)
	assert.Equal(t, grown, e)
	assert.False(t, f.idx.Dirty())
	_, ok = s.NextTree()
	assert.False(t, ok)
}

func TestFindFollowsChainOrder(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	for _, h := range []float64{9, 3, 27, 14} {
		f.add(t, 0, components.Adult, 4, 4, h)
	}
	s, err := finder.Find("all")
	require.NoError(t, err)
	assert.Equal(t, f.chain(t, 0, 0), s.All())
}

func TestFindFlushesDirtyIndex(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	a := f.add(t, 0, components.Adult, 4, 4, 2)
	f.add(t, 0, components.Adult, 4, 4, 10)

	f.setHeight(t, a, 30)
	f.idx.MarkDirty()

	s, err := finder.Find("height=25")
	require.NoError(t, err)
	assert.False(t, f.idx.Dirty())
	assert.Equal(t, []ecs.Entity{a}, s.All())
}

func TestSearchStartOverAndInvalidate(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	for i := range 5 {
		f.add(t, 0, components.Sapling, float64(i)*20, 10, 3)
	}

	s, err := finder.Find("type=Sapling")
	require.NoError(t, err)
	first := s.All()
	require.Len(t, first, 5)
	_, ok := s.NextTree()
	assert.False(t, ok)

	require.NoError(t, s.StartOver())
	assert.Equal(t, first, s.All())
	assert.Equal(t, 1, finder.Open())

	finder.InvalidateAll()
	assert.False(t, s.Valid())
	assert.Equal(t, 0, finder.Open())
	_, ok = s.NextTree()
	assert.False(t, ok)
	assert.True(t, errors.Is(s.StartOver(), simerr.ErrIllegalOperation))
}

func TestSearchSurvivesRemoval(t *testing.T) {
	f := newFixture(t)
	finder := NewFinder(f.idx, f.reg, f.plot)
	var trees []ecs.Entity
	for _, h := range []float64{1, 2, 3, 4, 5} {
		trees = append(trees, f.add(t, 0, components.Adult, 4, 4, h))
	}

	s, err := finder.Find("all")
	require.NoError(t, err)
	var seen []ecs.Entity
	for e, ok := s.NextTree(); ok; e, ok = s.NextTree() {
		seen = append(seen, e)
		require.NoError(t, f.idx.Remove(e))
		f.world.RemoveEntity(e)
		if e == trees[1] {
			// Removing a tree the iterator has not reached yet skips it.
			require.NoError(t, f.idx.Remove(trees[3]))
		}
	}
	assert.Equal(t, []ecs.Entity{trees[0], trees[1], trees[2], trees[4]}, seen)
	assert.Equal(t, 0, f.idx.Len())
}
