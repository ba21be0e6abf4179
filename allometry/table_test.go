package allometry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/simerr"
)

func testSpecies() []config.SpeciesConfig {
	crownR := config.FormulaConfig{Kind: "standard", A: 0.1, B: 1, Max: 8}
	crownD := config.FormulaConfig{Kind: "standard", A: 0.4, B: 1}
	return []config.SpeciesConfig{
		{
			Name: "Maple", MaxHeight: 30, MaxSeedlingHeight: 1.3, MinAdultDBH: 10,
			Diam10ToDBH:    config.ConversionConfig{Slope: 0.8, Intercept: 0.5},
			SeedlingHeight: config.FormulaConfig{Kind: "linear", A: 0.05, B: 0.6},
			SaplingHeight:  config.FormulaConfig{Kind: "power", A: 1.2, B: 0.7},
			AdultHeight:    config.FormulaConfig{Kind: "standard", A: 0.03},
			CrownRadius:    crownR,
			CrownDepth:     crownD,
		},
		{
			Name: "Hemlock", MaxHeight: 45, MaxSeedlingHeight: 1.35, MinAdultDBH: 8,
			Diam10ToDBH:    config.ConversionConfig{Slope: 0.78, Intercept: 0.2},
			SeedlingHeight: config.FormulaConfig{Kind: "reverse_linear", A: 0.01, B: 2},
			SaplingHeight:  config.FormulaConfig{Kind: "chapman_richards", A: 40, B: 0.025, C: 1.3},
			AdultHeight:    config.FormulaConfig{Kind: "chapman_richards", A: 40, B: 0.025, C: 1.3},
			CrownRadius:    config.FormulaConfig{Kind: "chapman_richards", I: 0.5, A: 6, B: 0.04, C: 1.1},
			CrownDepth:     config.FormulaConfig{Kind: "chapman_richards", A: 20, B: 0.05},
		},
	}
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(testSpecies())
	require.NoError(t, err)
	return tbl
}

func TestDiameterConversionRoundTrip(t *testing.T) {
	tbl := newTestTable(t)
	for sp := 0; sp < tbl.NumSpecies(); sp++ {
		for _, d := range []float64{0.01, 0.1, 1, 4.2, 30, 125.5} {
			dbh, err := tbl.ConvertDiam10ToDbh(d, sp)
			require.NoError(t, err)
			back, err := tbl.ConvertDbhToDiam10(dbh, sp)
			require.NoError(t, err)
			assert.InDelta(t, d, back, 1e-9, "species %d diam10 %v", sp, d)
		}
	}
}

func TestHeightDiameterInverse(t *testing.T) {
	tbl := newTestTable(t)
	tests := []struct {
		name    string
		species int
		stage   components.Stage
		diams   []float64
	}{
		{"linear seedling", 0, components.Seedling, []float64{0.05, 0.5, 1.5}},
		{"power sapling", 0, components.Sapling, []float64{0.5, 2, 8}},
		{"standard adult", 0, components.Adult, []float64{10, 25, 60}},
		{"reverse linear seedling", 1, components.Seedling, []float64{0.2, 1, 2}},
		{"chapman richards adult", 1, components.Adult, []float64{5, 20, 50}},
		{"snag uses adult", 1, components.Snag, []float64{12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, d := range tt.diams {
				h, err := tbl.HeightFromDiameter(d, tt.species, tt.stage)
				require.NoError(t, err)
				back, err := tbl.DiameterFromHeight(h, tt.species, tt.stage)
				require.NoError(t, err)
				assert.InDelta(t, d, back, 1e-6*math.Max(1, d), "diam %v height %v", d, h)
			}
		})
	}
}

func TestSeedlingHeightLinear(t *testing.T) {
	tbl := newTestTable(t)
	h, err := tbl.HeightFromDiameter(0.05, 0, components.Seedling)
	require.NoError(t, err)
	assert.InDelta(t, 0.08, h, 1e-12)
}

func TestHeightClampedToMax(t *testing.T) {
	tbl := newTestTable(t)
	h, err := tbl.HeightFromDiameter(1e6, 0, components.Sapling)
	require.NoError(t, err)
	assert.Equal(t, 30.0, h)

	d, err := tbl.DiameterFromHeight(100, 0, components.Adult)
	require.NoError(t, err)
	assert.False(t, math.IsInf(d, 0) || math.IsNaN(d))
}

func TestCrownDimensions(t *testing.T) {
	tbl := newTestTable(t)

	r, err := tbl.CrownRadius(20, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, r, 1e-9)

	r, err = tbl.CrownRadius(500, 0)
	require.NoError(t, err)
	assert.Equal(t, 8.0, r, "capped at max")

	d, err := tbl.CrownDepth(2, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, d, 2.0)
	assert.Greater(t, d, 0.0)
}

func TestThresholdsAndBadSpecies(t *testing.T) {
	tbl := newTestTable(t)

	v, err := tbl.MaxSeedlingHeight(0)
	require.NoError(t, err)
	assert.Equal(t, 1.3, v)
	v, err = tbl.MinAdultDBH(1)
	require.NoError(t, err)
	assert.Equal(t, 8.0, v)
	v, err = tbl.MaxTreeHeight(1)
	require.NoError(t, err)
	assert.Equal(t, 45.0, v)
	assert.Equal(t, 45.0, tbl.MaxHeightOverall())

	calls := map[string]func() error{
		"height":   func() error { _, err := tbl.HeightFromDiameter(1, 2, components.Adult); return err },
		"diameter": func() error { _, err := tbl.DiameterFromHeight(1, -1, components.Adult); return err },
		"diam10":   func() error { _, err := tbl.ConvertDiam10ToDbh(1, 9); return err },
		"dbh":      func() error { _, err := tbl.ConvertDbhToDiam10(1, 9); return err },
		"max":      func() error { _, err := tbl.MaxTreeHeight(3); return err },
		"crown":    func() error { _, err := tbl.CrownRadius(1, 3); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(call(), simerr.ErrBadData))
		})
	}

	_, err = tbl.HeightFromDiameter(1, 0, components.Stump)
	assert.True(t, errors.Is(err, simerr.ErrTreeWrongType))
}

func TestNewRejectsBadFormula(t *testing.T) {
	cfgs := testSpecies()
	cfgs[0].AdultHeight.Kind = "cubic"
	_, err := New(cfgs)
	assert.True(t, errors.Is(err, simerr.ErrBadData))

	cfgs = testSpecies()
	cfgs[1].CrownRadius.Kind = "linear"
	_, err = New(cfgs)
	assert.True(t, errors.Is(err, simerr.ErrBadData))

	cfgs = testSpecies()
	cfgs[0].SaplingHeight = config.FormulaConfig{Kind: "linear", A: 1}
	_, err = New(cfgs)
	assert.Error(t, err)
}
