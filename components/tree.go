package components

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/canopy/simerr"
)

// Tree holds a tree's identity and its typed attribute slots. The slot
// arrays are sized by the tree's Layout and are reallocated when the tree
// changes stage.
type Tree struct {
	Species int

	layout *Layout
	floats []float64
	ints   []int
	strs   []string
	bools  []bool
}

// NewTree allocates a tree for layout at (x, y). Coordinates are write-once.
func NewTree(layout *Layout, x, y float64) Tree {
	t := Tree{Species: layout.Species}
	t.allocate(layout)
	if layout.X >= 0 {
		t.floats[layout.X] = x
	}
	if layout.Y >= 0 {
		t.floats[layout.Y] = y
	}
	return t
}

func (t *Tree) allocate(l *Layout) {
	t.layout = l
	t.floats = make([]float64, l.Len(FloatSlot))
	t.ints = make([]int, l.Len(IntSlot))
	t.strs = make([]string, l.Len(StringSlot))
	t.bools = make([]bool, l.Len(BoolSlot))
}

// Stage returns the tree's life stage.
func (t *Tree) Stage() Stage {
	return t.layout.Stage
}

// Layout returns the tree's attribute layout.
func (t *Tree) Layout() *Layout {
	return t.layout
}

// X returns the tree's X coordinate.
func (t *Tree) X() float64 {
	return t.floatOr(t.layout.X)
}

// Y returns the tree's Y coordinate.
func (t *Tree) Y() float64 {
	return t.floatOr(t.layout.Y)
}

// Height returns the tree's height, or 0 for stages without one.
func (t *Tree) Height() float64 {
	return t.floatOr(t.layout.Height)
}

// Diameter returns the governing diameter: diam10 for seedlings, DBH otherwise.
func (t *Tree) Diameter() float64 {
	if t.layout.Stage == Seedling {
		return t.floatOr(t.layout.Diam10)
	}
	return t.floatOr(t.layout.DBH)
}

func (t *Tree) floatOr(code int) float64 {
	if code < 0 {
		return 0
	}
	return t.floats[code]
}

func badCode(op string, kind SlotKind, code int, l *Layout) error {
	return simerr.New(simerr.BadData, op, "invalid %s data code %d for species %d %s", kind, code, l.Species, l.Stage)
}

// Float returns a float attribute.
func (t *Tree) Float(code int) (float64, error) {
	if code < 0 || code >= len(t.floats) {
		return 0, badCode("GetFloat", FloatSlot, code, t.layout)
	}
	return t.floats[code], nil
}

// SetFloat writes a float attribute. Coordinates cannot be changed. Writes to
// size attributes bypass allometry and the index; behaviors use the
// population manager for those.
func (t *Tree) SetFloat(code int, v float64) error {
	if code < 0 || code >= len(t.floats) {
		return badCode("SetFloat", FloatSlot, code, t.layout)
	}
	if code == t.layout.X || code == t.layout.Y {
		return simerr.New(simerr.IllegalOperation, "SetFloat", "tree coordinates are write-once")
	}
	t.floats[code] = v
	return nil
}

// Int returns an integer attribute.
func (t *Tree) Int(code int) (int, error) {
	if code < 0 || code >= len(t.ints) {
		return 0, badCode("GetInt", IntSlot, code, t.layout)
	}
	return t.ints[code], nil
}

// SetInt writes an integer attribute.
func (t *Tree) SetInt(code int, v int) error {
	if code < 0 || code >= len(t.ints) {
		return badCode("SetInt", IntSlot, code, t.layout)
	}
	t.ints[code] = v
	return nil
}

// Text returns a text attribute.
func (t *Tree) Text(code int) (string, error) {
	if code < 0 || code >= len(t.strs) {
		return "", badCode("GetText", StringSlot, code, t.layout)
	}
	return t.strs[code], nil
}

// SetText writes a text attribute.
func (t *Tree) SetText(code int, v string) error {
	if code < 0 || code >= len(t.strs) {
		return badCode("SetText", StringSlot, code, t.layout)
	}
	t.strs[code] = v
	return nil
}

// Bool returns a boolean attribute.
func (t *Tree) Bool(code int) (bool, error) {
	if code < 0 || code >= len(t.bools) {
		return false, badCode("GetBool", BoolSlot, code, t.layout)
	}
	return t.bools[code], nil
}

// SetBool writes a boolean attribute.
func (t *Tree) SetBool(code int, v bool) error {
	if code < 0 || code >= len(t.bools) {
		return badCode("SetBool", BoolSlot, code, t.layout)
	}
	t.bools[code] = v
	return nil
}

// Reshape moves the tree to another layout of the same species. The slot
// arrays are reallocated and attributes whose label exists in both layouts
// are copied across; the rest start at their zero value.
func (t *Tree) Reshape(to *Layout) error {
	if to.Species != t.Species {
		return simerr.New(simerr.IllegalOperation, "Reshape", "species cannot change (%d -> %d)", t.Species, to.Species)
	}
	from := t.layout
	floats, ints, strs, bools := t.floats, t.ints, t.strs, t.bools
	t.allocate(to)

	for i, label := range from.labels[FloatSlot] {
		if c := to.Code(FloatSlot, label); c >= 0 {
			t.floats[c] = floats[i]
		}
	}
	for i, label := range from.labels[IntSlot] {
		if c := to.Code(IntSlot, label); c >= 0 {
			t.ints[c] = ints[i]
		}
	}
	for i, label := range from.labels[StringSlot] {
		if c := to.Code(StringSlot, label); c >= 0 {
			t.strs[c] = strs[i]
		}
	}
	for i, label := range from.labels[BoolSlot] {
		if c := to.Code(BoolSlot, label); c >= 0 {
			t.bools[c] = bools[i]
		}
	}
	return nil
}

// Links chains a tree into the spatial-height index. The index owns every
// field; nothing else writes them.
type Links struct {
	Shorter ecs.Entity
	Taller  ecs.Entity
	Cell    int // flat grid cell of the indexed position
	Class   int // height class the tree was filed under
	Indexed bool
}
