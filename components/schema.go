package components

import (
	"strings"

	"github.com/pthm-cable/canopy/simerr"
)

// SlotKind is one of the four typed attribute arrays of a tree.
type SlotKind uint8

const (
	FloatSlot SlotKind = iota
	IntSlot
	StringSlot
	BoolSlot
	numSlotKinds
)

func (k SlotKind) String() string {
	switch k {
	case FloatSlot:
		return "float"
	case IntSlot:
		return "int"
	case StringSlot:
		return "string"
	case BoolSlot:
		return "bool"
	}
	return "unknown"
}

// Base attribute labels.
const (
	LabelX           = "X"
	LabelY           = "Y"
	LabelHeight      = "Height"
	LabelDiam10      = "Diam10"
	LabelDBH         = "DBH"
	LabelCrownRadius = "Crown Radius"
	LabelCrownDepth  = "Crown Depth"
	LabelAge         = "Age"
	LabelWhyDead     = "Why Dead"
)

// Layout is the attribute schema of one (species, stage) pair: an ordered
// label list per slot kind. A label's position is its slot code.
type Layout struct {
	Species int
	Stage   Stage

	labels [numSlotKinds][]string

	// Cached codes of the base attributes, -1 when absent.
	X, Y, Height, Diam10, DBH, CrownRadius, CrownDepth int
	Age, WhyDead                                       int
}

func newLayout(species int, stage Stage) *Layout {
	l := &Layout{Species: species, Stage: stage}
	l.refresh()
	return l
}

// Len returns the number of slots of the given kind.
func (l *Layout) Len(kind SlotKind) int {
	return len(l.labels[kind])
}

// Code returns the slot code of label, or -1.
func (l *Layout) Code(kind SlotKind, label string) int {
	for i, s := range l.labels[kind] {
		if s == label {
			return i
		}
	}
	return -1
}

// Label returns the label of a slot code, or "" if out of range.
func (l *Layout) Label(kind SlotKind, code int) string {
	if code < 0 || code >= len(l.labels[kind]) {
		return ""
	}
	return l.labels[kind][code]
}

// Labels returns a copy of the labels of one kind in code order.
func (l *Layout) Labels(kind SlotKind) []string {
	return append([]string(nil), l.labels[kind]...)
}

func (l *Layout) refresh() {
	l.X = l.Code(FloatSlot, LabelX)
	l.Y = l.Code(FloatSlot, LabelY)
	l.Height = l.Code(FloatSlot, LabelHeight)
	l.Diam10 = l.Code(FloatSlot, LabelDiam10)
	l.DBH = l.Code(FloatSlot, LabelDBH)
	l.CrownRadius = l.Code(FloatSlot, LabelCrownRadius)
	l.CrownDepth = l.Code(FloatSlot, LabelCrownDepth)
	l.Age = l.Code(IntSlot, LabelAge)
	l.WhyDead = l.Code(IntSlot, LabelWhyDead)
}

// Registry maps species names to codes and holds the attribute layouts of
// every (species, stage) pair. Species are fixed at construction; labels may
// be registered until the registry is sealed.
type Registry struct {
	names   []string
	index   map[string]int
	layouts [][NumStages]*Layout
	sealed  bool
}

// NewRegistry creates a registry for the given species, in code order.
func NewRegistry(names []string) (*Registry, error) {
	if len(names) == 0 {
		return nil, simerr.New(simerr.DataMissing, "NewRegistry", "no species")
	}
	r := &Registry{
		names:   append([]string(nil), names...),
		index:   make(map[string]int, len(names)),
		layouts: make([][NumStages]*Layout, len(names)),
	}
	for i, name := range names {
		if _, dup := r.index[name]; dup {
			return nil, simerr.New(simerr.BadData, "NewRegistry", "duplicate species %q", name)
		}
		r.index[name] = i
		for s := Stage(0); s < NumStages; s++ {
			r.layouts[i][s] = newLayout(i, s)
		}
	}
	return r, nil
}

// NumSpecies returns the number of species.
func (r *Registry) NumSpecies() int {
	return len(r.names)
}

// ValidSpecies reports whether code is a known species.
func (r *Registry) ValidSpecies(code int) bool {
	return code >= 0 && code < len(r.names)
}

// SpeciesName returns the name of a species code.
func (r *Registry) SpeciesName(code int) (string, error) {
	if !r.ValidSpecies(code) {
		return "", simerr.New(simerr.BadData, "SpeciesName", "unrecognized species code %d", code)
	}
	return r.names[code], nil
}

// SpeciesCode resolves a species name.
func (r *Registry) SpeciesCode(name string) (int, error) {
	code, ok := r.index[strings.TrimSpace(name)]
	if !ok {
		return -1, simerr.New(simerr.BadData, "SpeciesCode", "unrecognized species %q", name)
	}
	return code, nil
}

// Layout returns the layout of a (species, stage) pair, or nil if either is invalid.
func (r *Registry) Layout(species int, stage Stage) *Layout {
	if !r.ValidSpecies(species) || !stage.Valid() {
		return nil
	}
	return r.layouts[species][stage]
}

// Seal freezes the schema. Layouts are shared by live trees, so labels can
// no longer be added after the first tree exists.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether the schema is frozen.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Register adds a label to a (species, stage) layout and returns its slot code.
// Registering the same label twice for the same pair and kind is an error.
func (r *Registry) Register(kind SlotKind, label string, species int, stage Stage) (int, error) {
	const op = "Register"
	if r.sealed {
		return -1, simerr.New(simerr.IllegalOperation, op, "cannot register %q after trees exist", label)
	}
	if kind >= numSlotKinds {
		return -1, simerr.New(simerr.BadData, op, "unknown slot kind %d", kind)
	}
	if label == "" {
		return -1, simerr.New(simerr.BadData, op, "empty label")
	}
	l := r.Layout(species, stage)
	if l == nil {
		return -1, simerr.New(simerr.BadData, op, "unrecognized species %d or type %d", species, stage)
	}
	if l.Code(kind, label) >= 0 {
		return -1, simerr.New(simerr.IllegalOperation, op, "%s %q already registered for %s %s", kind, label, r.names[species], stage)
	}
	l.labels[kind] = append(l.labels[kind], label)
	l.refresh()
	return len(l.labels[kind]) - 1, nil
}

// RegisterFloat registers a float attribute.
func (r *Registry) RegisterFloat(label string, species int, stage Stage) (int, error) {
	return r.Register(FloatSlot, label, species, stage)
}

// RegisterInt registers an integer attribute.
func (r *Registry) RegisterInt(label string, species int, stage Stage) (int, error) {
	return r.Register(IntSlot, label, species, stage)
}

// RegisterString registers a text attribute.
func (r *Registry) RegisterString(label string, species int, stage Stage) (int, error) {
	return r.Register(StringSlot, label, species, stage)
}

// RegisterBool registers a boolean attribute.
func (r *Registry) RegisterBool(label string, species int, stage Stage) (int, error) {
	return r.Register(BoolSlot, label, species, stage)
}

// Code returns the slot code of label for a (species, stage) pair, or -1.
func (r *Registry) Code(kind SlotKind, label string, species int, stage Stage) int {
	l := r.Layout(species, stage)
	if l == nil || kind >= numSlotKinds {
		return -1
	}
	return l.Code(kind, label)
}

// baseSchema lists the float labels each stage starts with.
var baseSchema = map[Stage][]string{
	Seedling: {LabelX, LabelY, LabelHeight, LabelDiam10},
	Sapling:  {LabelX, LabelY, LabelHeight, LabelDiam10, LabelDBH, LabelCrownRadius, LabelCrownDepth},
	Adult:    {LabelX, LabelY, LabelHeight, LabelDBH, LabelCrownRadius, LabelCrownDepth},
	Snag:     {LabelX, LabelY, LabelHeight, LabelDBH, LabelCrownRadius, LabelCrownDepth},
	Stump:    {LabelX, LabelY, LabelDBH},
}

// RegisterBase registers the base attributes of every tree stage for every
// species. Snags also carry the integers Age and Why Dead.
func (r *Registry) RegisterBase() error {
	for sp := range r.names {
		for _, stage := range []Stage{Seedling, Sapling, Adult, Snag, Stump} {
			for _, label := range baseSchema[stage] {
				if _, err := r.RegisterFloat(label, sp, stage); err != nil {
					return err
				}
			}
		}
		if _, err := r.RegisterInt(LabelAge, sp, Snag); err != nil {
			return err
		}
		if _, err := r.RegisterInt(LabelWhyDead, sp, Snag); err != nil {
			return err
		}
	}
	return nil
}
