package allometry

import (
	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/simerr"
)

// Species holds the allometric parameters of one species.
type Species struct {
	Name              string
	MaxHeight         float64
	MaxSeedlingHeight float64
	MinAdultDBH       float64
	Diam10Slope       float64
	Diam10Intercept   float64

	SeedlingHeight Formula
	SaplingHeight  Formula
	AdultHeight    Formula
	CrownRadius    Formula
	CrownDepth     Formula
}

// Table is the read-only allometry service. It is safe to share after construction.
type Table struct {
	species   []Species
	maxHeight float64
}

// New builds a table from species configuration, in species-code order.
func New(cfgs []config.SpeciesConfig) (*Table, error) {
	if len(cfgs) == 0 {
		return nil, simerr.New(simerr.DataMissing, "allometry.New", "no species")
	}
	t := &Table{species: make([]Species, len(cfgs))}
	for i, c := range cfgs {
		sp := Species{
			Name:              c.Name,
			MaxHeight:         c.MaxHeight,
			MaxSeedlingHeight: c.MaxSeedlingHeight,
			MinAdultDBH:       c.MinAdultDBH,
			Diam10Slope:       c.Diam10ToDBH.Slope,
			Diam10Intercept:   c.Diam10ToDBH.Intercept,
		}
		if sp.Diam10Slope <= 0 {
			return nil, simerr.New(simerr.BadData, "allometry.New", "species %q: diam10 conversion slope must be positive", c.Name)
		}

		var err error
		fields := []struct {
			dst   *Formula
			src   config.FormulaConfig
			what  string
			crown bool
		}{
			{&sp.SeedlingHeight, c.SeedlingHeight, "seedling height", false},
			{&sp.SaplingHeight, c.SaplingHeight, "sapling height", false},
			{&sp.AdultHeight, c.AdultHeight, "adult height", false},
			{&sp.CrownRadius, c.CrownRadius, "crown radius", true},
			{&sp.CrownDepth, c.CrownDepth, "crown depth", true},
		}
		for _, f := range fields {
			what := c.Name + " " + f.what
			if *f.dst, err = formulaFromConfig(f.src, what); err != nil {
				return nil, err
			}
			if f.crown {
				err = f.dst.checkCrown(what)
			} else {
				err = f.dst.checkHeight(what)
			}
			if err != nil {
				return nil, err
			}
		}

		t.species[i] = sp
		if sp.MaxHeight > t.maxHeight {
			t.maxHeight = sp.MaxHeight
		}
	}
	return t, nil
}

// NumSpecies returns the number of species in the table.
func (t *Table) NumSpecies() int {
	return len(t.species)
}

func (t *Table) lookup(op string, species int) (*Species, error) {
	if species < 0 || species >= len(t.species) {
		return nil, simerr.New(simerr.BadData, op, "unrecognized species %d", species)
	}
	return &t.species[species], nil
}

func (sp *Species) heightFormula(op string, stage components.Stage) (Formula, error) {
	switch stage {
	case components.Seedling:
		return sp.SeedlingHeight, nil
	case components.Sapling:
		return sp.SaplingHeight, nil
	case components.Adult, components.Snag:
		return sp.AdultHeight, nil
	}
	return Formula{}, simerr.New(simerr.TreeWrongType, op, "no height function for %s", stage)
}

// HeightFromDiameter returns the height in metres of a tree of the given
// stage. diam is diam10 for seedlings and DBH otherwise, in cm.
func (t *Table) HeightFromDiameter(diam float64, species int, stage components.Stage) (float64, error) {
	const op = "HeightFromDiameter"
	sp, err := t.lookup(op, species)
	if err != nil {
		return 0, err
	}
	f, err := sp.heightFormula(op, stage)
	if err != nil {
		return 0, err
	}
	return f.height(diam, sp.MaxHeight), nil
}

// DiameterFromHeight inverts HeightFromDiameter.
func (t *Table) DiameterFromHeight(height float64, species int, stage components.Stage) (float64, error) {
	const op = "DiameterFromHeight"
	sp, err := t.lookup(op, species)
	if err != nil {
		return 0, err
	}
	f, err := sp.heightFormula(op, stage)
	if err != nil {
		return 0, err
	}
	return f.diameter(height, sp.MaxHeight), nil
}

// ConvertDiam10ToDbh converts a diameter at 10 cm to a DBH.
func (t *Table) ConvertDiam10ToDbh(diam10 float64, species int) (float64, error) {
	sp, err := t.lookup("ConvertDiam10ToDbh", species)
	if err != nil {
		return 0, err
	}
	return sp.Diam10Intercept + sp.Diam10Slope*diam10, nil
}

// ConvertDbhToDiam10 converts a DBH to a diameter at 10 cm.
func (t *Table) ConvertDbhToDiam10(dbh float64, species int) (float64, error) {
	sp, err := t.lookup("ConvertDbhToDiam10", species)
	if err != nil {
		return 0, err
	}
	return (dbh - sp.Diam10Intercept) / sp.Diam10Slope, nil
}

// CrownRadius returns the crown radius in metres for a DBH in cm.
func (t *Table) CrownRadius(dbh float64, species int) (float64, error) {
	sp, err := t.lookup("CrownRadius", species)
	if err != nil {
		return 0, err
	}
	return sp.CrownRadius.crown(dbh), nil
}

// CrownDepth returns the crown depth in metres for a height in metres. The
// depth never exceeds the height.
func (t *Table) CrownDepth(height float64, species int) (float64, error) {
	sp, err := t.lookup("CrownDepth", species)
	if err != nil {
		return 0, err
	}
	return clamp(sp.CrownDepth.crown(height), 0, height), nil
}

// MaxTreeHeight returns the species' asymptotic height.
func (t *Table) MaxTreeHeight(species int) (float64, error) {
	sp, err := t.lookup("MaxTreeHeight", species)
	if err != nil {
		return 0, err
	}
	return sp.MaxHeight, nil
}

// MaxSeedlingHeight returns the height above which a seedling is a sapling.
func (t *Table) MaxSeedlingHeight(species int) (float64, error) {
	sp, err := t.lookup("MaxSeedlingHeight", species)
	if err != nil {
		return 0, err
	}
	return sp.MaxSeedlingHeight, nil
}

// MinAdultDBH returns the DBH at which a sapling becomes an adult.
func (t *Table) MinAdultDBH(species int) (float64, error) {
	sp, err := t.lookup("MinAdultDBH", species)
	if err != nil {
		return 0, err
	}
	return sp.MinAdultDBH, nil
}

// MaxHeightOverall returns the tallest MaxTreeHeight across all species.
func (t *Table) MaxHeightOverall() float64 {
	return t.maxHeight
}
