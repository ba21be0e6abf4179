package population

import (
	"math"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/simerr"
)

// dims are the size attributes that drive life-stage transitions. Fields a
// stage does not carry are ignored when written back.
type dims struct {
	height float64
	diam10 float64
	dbh    float64
}

func dimsOf(t *components.Tree) dims {
	var d dims
	l := t.Layout()
	if l.Height >= 0 {
		d.height, _ = t.Float(l.Height)
	}
	if l.Diam10 >= 0 {
		d.diam10, _ = t.Float(l.Diam10)
	}
	if l.DBH >= 0 {
		d.dbh, _ = t.Float(l.DBH)
	}
	return d
}

// applyDims writes the size attributes and marks the crown dimensions as
// not yet computed.
func applyDims(t *components.Tree, d dims) {
	l := t.Layout()
	if l.Height >= 0 {
		_ = t.SetFloat(l.Height, d.height)
	}
	if l.Diam10 >= 0 {
		_ = t.SetFloat(l.Diam10, d.diam10)
	}
	if l.DBH >= 0 {
		_ = t.SetFloat(l.DBH, d.dbh)
	}
	resetCrown(t)
}

func resetCrown(t *components.Tree) {
	l := t.Layout()
	if l.CrownRadius >= 0 {
		_ = t.SetFloat(l.CrownRadius, -1)
	}
	if l.CrownDepth >= 0 {
		_ = t.SetFloat(l.CrownDepth, -1)
	}
}

// maxTransitions bounds the stage changes a single write can cause.
const maxTransitions = 2

// settle runs the life-stage state machine from stage over d and returns the
// stages passed through, converting diameters at each step. A write moves a
// tree in one direction only: once it has grown a stage it cannot shrink
// back within the same write, and vice versa.
func (m *Manager) settle(species int, stage components.Stage, d *dims) ([]components.Stage, error) {
	const op = "settle"
	if !stage.Living() {
		return nil, nil
	}
	maxSeedling, err := m.allo.MaxSeedlingHeight(species)
	if err != nil {
		return nil, err
	}
	minAdult, err := m.allo.MinAdultDBH(species)
	if err != nil {
		return nil, err
	}

	var path []components.Stage
	dir := 0 // +1 growing, -1 shrinking
	for len(path) < maxTransitions {
		next := stage
		switch stage {
		case components.Seedling:
			if dir >= 0 && d.height > maxSeedling {
				next = components.Sapling
			}
		case components.Sapling:
			if dir >= 0 && d.dbh >= minAdult {
				next = components.Adult
			} else if dir <= 0 && d.height < maxSeedling {
				next = components.Seedling
			}
		case components.Adult:
			if dir <= 0 && d.dbh < minAdult {
				next = components.Sapling
			}
		default:
			return nil, simerr.New(simerr.TreeWrongType, op, "unexpected tree type %s", stage)
		}
		if next == stage {
			break
		}

		if err := m.convertDiameter(species, stage, next, d); err != nil {
			return nil, err
		}
		if next > stage {
			dir = 1
		} else {
			dir = -1
		}
		path = append(path, next)
		stage = next
	}
	return path, nil
}

// convertDiameter moves the governing diameter between the diam10 and DBH
// representations when a tree crosses the seedling/sapling/adult lines.
func (m *Manager) convertDiameter(species int, from, to components.Stage, d *dims) error {
	var err error
	switch {
	case from == components.Seedling && to == components.Sapling:
		if d.dbh, err = m.allo.ConvertDiam10ToDbh(d.diam10, species); err == nil {
			err = positive("ChangeType", components.LabelDBH, d.dbh)
		}
	case from == components.Adult && to == components.Sapling:
		if d.diam10, err = m.allo.ConvertDbhToDiam10(d.dbh, species); err == nil {
			err = positive("ChangeType", components.LabelDiam10, d.diam10)
		}
	case from == components.Sapling && (to == components.Adult || to == components.Seedling):
		// Saplings carry both diameters.
	default:
		return simerr.New(simerr.TreeWrongType, "ChangeType", "no transition from %s to %s", from, to)
	}
	return err
}

// positive rejects a derived size at or below zero.
func positive(op, label string, v float64) error {
	if v <= 0 || math.IsNaN(v) {
		return simerr.New(simerr.IllegalOperation, op, "%s would become %g", label, v)
	}
	return nil
}

// changeType reshapes a tree into another stage of its species, copying
// attributes by label and writing the converted size attributes. It does
// not touch the index.
func (m *Manager) changeType(t *components.Tree, to components.Stage, d dims) error {
	l := m.reg.Layout(t.Species, to)
	if l == nil {
		return simerr.New(simerr.TreeWrongType, "ChangeType", "no layout for species %d %s", t.Species, to)
	}
	if err := t.Reshape(l); err != nil {
		return err
	}
	applyDims(t, d)
	return nil
}

// recompute derives the paired dimensions after one of them was written.
func (m *Manager) recompute(t *components.Tree, code int, d *dims) error {
	l := t.Layout()
	sp := t.Species
	stage := t.Stage()
	var err error

	switch stage {
	case components.Seedling:
		switch code {
		case l.Diam10:
			d.height, err = m.allo.HeightFromDiameter(d.diam10, sp, stage)
		case l.Height:
			d.diam10, err = m.allo.DiameterFromHeight(d.height, sp, stage)
		}
	case components.Sapling:
		switch code {
		case l.DBH:
			if d.diam10, err = m.allo.ConvertDbhToDiam10(d.dbh, sp); err == nil {
				d.height, err = m.allo.HeightFromDiameter(d.dbh, sp, stage)
			}
		case l.Diam10:
			if d.dbh, err = m.allo.ConvertDiam10ToDbh(d.diam10, sp); err == nil {
				d.height, err = m.allo.HeightFromDiameter(d.dbh, sp, stage)
			}
		case l.Height:
			if d.dbh, err = m.allo.DiameterFromHeight(d.height, sp, stage); err == nil {
				d.diam10, err = m.allo.ConvertDbhToDiam10(d.dbh, sp)
			}
		}
		if err == nil {
			if err = positive("UpdateFloat", components.LabelDBH, d.dbh); err == nil {
				err = positive("UpdateFloat", components.LabelDiam10, d.diam10)
			}
		}
	case components.Adult, components.Snag:
		switch code {
		case l.DBH:
			d.height, err = m.allo.HeightFromDiameter(d.dbh, sp, stage)
		case l.Height:
			d.dbh, err = m.allo.DiameterFromHeight(d.height, sp, stage)
		}
	}
	return err
}
