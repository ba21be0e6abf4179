package population

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/config"
)

// Populate creates the initial trees from per-hectare densities. Each size
// class gets density x plot area stems at uniform random positions with a
// DBH drawn uniformly from the class; seedlings get the default diameter.
// Stages follow from the drawn sizes.
func (m *Manager) Populate(densities []config.DensityConfig) error {
	area := m.plot.AreaHa()
	for _, dens := range densities {
		sp, err := m.reg.SpeciesCode(dens.Species)
		if err != nil {
			return err
		}

		n := int(math.Round(dens.Seedlings * area))
		for range n {
			if _, err := m.CreateTree(m.randX(), m.randY(), sp, components.Seedling, 0); err != nil {
				return err
			}
		}
		created := n

		for _, class := range dens.Classes {
			dbh := distuv.Uniform{Min: class.MinDBH, Max: class.MaxDBH, Src: m.src}
			n := int(math.Round(class.Density * area))
			for range n {
				if _, err := m.CreateTree(m.randX(), m.randY(), sp, components.Sapling, dbh.Rand()); err != nil {
					return err
				}
			}
			created += n
		}
		slog.Info("initial_trees", "species", dens.Species, "count", created)
	}
	return nil
}

func (m *Manager) randX() float64 {
	return m.rng.Float64() * m.plot.XLength()
}

func (m *Manager) randY() float64 {
	return m.rng.Float64() * m.plot.YLength()
}
