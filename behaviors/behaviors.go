// Package behaviors holds the bundled per-timestep processes that drive a
// population: constant-increment growth, background mortality and a
// diameter-limit harvest. They act only through the population manager.
package behaviors

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/population"
)

// Report counts what one timestep of behaviors did.
type Report struct {
	Grown     int
	Died      int
	Harvested int
}

// Behavior names, in the order Step runs them.
const (
	GrowthName    = "growth"
	MortalityName = "mortality"
	HarvestName   = "harvest"
)

// Step runs growth, mortality and harvest in that order with the manager's
// configured parameters. onStart, if non-nil, is called with each behavior's
// name before it runs.
func Step(m *population.Manager, onStart func(name string)) (Report, error) {
	var r Report
	var err error
	b := m.Config().Behaviors
	years := m.Config().Plot.TimestepYears
	start := func(name string) {
		if onStart != nil {
			onStart(name)
		}
	}

	start(GrowthName)
	if r.Grown, err = Grow(m, b.Growth, years); err != nil {
		return r, fmt.Errorf("%s: %w", GrowthName, err)
	}
	start(MortalityName)
	if r.Died, err = Mortality(m, b.Mortality, years); err != nil {
		return r, fmt.Errorf("%s: %w", MortalityName, err)
	}
	start(HarvestName)
	if r.Harvested, err = Harvest(m, b.Harvest); err != nil {
		return r, fmt.Errorf("%s: %w", HarvestName, err)
	}
	slog.Debug("behaviors_step",
		"timestep", m.Timestep(),
		"grown", r.Grown,
		"died", r.Died,
		"harvested", r.Harvested,
	)
	return r, nil
}

func living(m *population.Manager) ([]ecs.Entity, error) {
	s, err := m.Find("type=Seedling,Sapling,Adult")
	if err != nil {
		return nil, err
	}
	var out []ecs.Entity
	for e, ok := s.NextTree(); ok; e, ok = s.NextTree() {
		out = append(out, e)
	}
	return out, nil
}

// Grow adds a fixed diameter increment to every living tree: diam10 for
// seedlings and DBH otherwise. Heights follow through allometry and the
// index is resorted once at the end.
func Grow(m *population.Manager, cfg config.GrowthConfig, years float64) (int, error) {
	trees, err := living(m)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range trees {
		t, err := m.Tree(e)
		if err != nil {
			return n, err
		}
		l := t.Layout()
		code, inc := l.DBH, cfg.DBHIncrement
		if t.Stage() == components.Seedling {
			code, inc = l.Diam10, cfg.Diam10Increment
		}
		if inc <= 0 {
			continue
		}
		if err := m.UpdateFloat(e, code, t.Diameter()+inc*years, false, true); err != nil {
			return n, err
		}
		n++
	}
	m.Flush()
	return n, nil
}

// Mortality kills each living tree with the probability of dying at least
// once in years at the configured annual rate.
func Mortality(m *population.Manager, cfg config.MortalityConfig, years float64) (int, error) {
	if cfg.AnnualRate <= 0 {
		return 0, nil
	}
	p := 1 - math.Pow(1-cfg.AnnualRate, years)
	trees, err := living(m)
	if err != nil {
		return 0, err
	}
	rng := m.Rand()
	n := 0
	for _, e := range trees {
		if rng.Float64() >= p {
			continue
		}
		if err := m.KillTree(e, components.Natural); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Harvest cuts every adult at or above the diameter limit on timesteps that
// fall on the harvest interval.
func Harvest(m *population.Manager, cfg config.HarvestConfig) (int, error) {
	if !cfg.Enabled || cfg.Interval <= 0 || m.Timestep()%cfg.Interval != 0 {
		return 0, nil
	}
	s, err := m.Find("type=Adult")
	if err != nil {
		return 0, err
	}
	n := 0
	for e, ok := s.NextTree(); ok; e, ok = s.NextTree() {
		t, err := m.Tree(e)
		if err != nil {
			return n, err
		}
		if t.Diameter() < cfg.MinDBH {
			continue
		}
		if err := m.KillTree(e, components.Harvest); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		slog.Info("harvest", "timestep", m.Timestep(), "trees", n, "min_dbh", cfg.MinDBH)
	}
	return n, nil
}
