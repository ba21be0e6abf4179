package population

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/canopy/archive"
	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/simerr"
)

// KillTree kills a tree. The tree is archived first, then its fate depends on
// the reason and the species policy: harvested adults of stump-making species
// become stumps, adults of snag-making species dying of natural causes become
// snags and stay indexed, and everything else is removed.
func (m *Manager) KillTree(e ecs.Entity, reason components.DeathReason) error {
	const op = "KillTree"
	if reason == components.NotDead || reason > components.RemoveTree {
		return simerr.New(simerr.BadData, op, "invalid death reason %s", reason)
	}
	t, err := m.tree(op, e)
	if err != nil {
		return err
	}
	stage := t.Stage()
	sp := t.Species

	if err := m.ghosts.Add(archive.Ghost{
		Timestep: m.timestep,
		Species:  sp,
		Stage:    stage,
		Reason:   reason,
		X:        t.X(),
		Y:        t.Y(),
		Height:   t.Height(),
		Diameter: t.Diameter(),
	}); err != nil {
		return fmt.Errorf("archiving dead tree: %w", err)
	}
	m.rec.TreeKilled(sp, stage, reason)

	policy := m.cfg.Species[sp]
	switch {
	case stage == components.Adult && reason == components.Harvest && policy.MakeStumps:
		if err := m.idx.Remove(e); err != nil {
			return err
		}
		if err := t.Reshape(m.reg.Layout(sp, components.Stump)); err != nil {
			return err
		}
		// t is stale after the component is removed.
		m.links.Remove(e)
		m.stumps = append(m.stumps, e)
		slog.Debug("tree_stumped", "species", sp)

	case stage == components.Adult && reason.NaturalCause() && policy.MakeSnags:
		// Same height and position, so the index entry stays valid.
		if err := t.Reshape(m.reg.Layout(sp, components.Snag)); err != nil {
			return err
		}
		l := t.Layout()
		resetCrown(t)
		if err := t.SetInt(l.Age, 0); err != nil {
			return err
		}
		if err := t.SetInt(l.WhyDead, int(reason)); err != nil {
			return err
		}
		slog.Debug("tree_snagged", "species", sp, "reason", reason.String())

	default:
		if stage == components.Stump {
			m.stumps = slices.DeleteFunc(m.stumps, func(s ecs.Entity) bool { return s == e })
		} else if err := m.idx.Remove(e); err != nil {
			return err
		}
		m.world.RemoveEntity(e)
		slog.Debug("tree_removed", "species", sp, "type", stage.String(), "reason", reason.String())
	}
	return nil
}

// EndOfTimestepCleanup closes all open searches, removes this timestep's
// stumps, and ages every snag by one timestep, resetting its crown
// dimensions so they are recomputed on next use.
func (m *Manager) EndOfTimestepCleanup() {
	m.finder.InvalidateAll()

	stumps := len(m.stumps)
	for _, e := range m.stumps {
		if m.world.Alive(e) {
			m.world.RemoveEntity(e)
		}
	}
	m.stumps = m.stumps[:0]

	years := int(math.Round(m.cfg.Plot.TimestepYears))
	snags := 0
	query := m.filter.Query()
	for query.Next() {
		t := query.Get()
		if t.Stage() != components.Snag {
			continue
		}
		l := t.Layout()
		age, _ := t.Int(l.Age)
		_ = t.SetInt(l.Age, age+years)
		resetCrown(t)
		snags++
	}

	m.timestep++
	slog.Info("timestep_cleanup",
		"timestep", m.timestep,
		"trees", m.idx.Len(),
		"stumps_removed", stumps,
		"snags_aged", snags,
	)
}
