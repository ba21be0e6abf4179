// Package population owns the tree population: creation, attribute updates
// with life-stage transitions, death, and end-of-timestep housekeeping.
package population

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pthm-cable/canopy/allometry"
	"github.com/pthm-cable/canopy/archive"
	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/plot"
	"github.com/pthm-cable/canopy/simerr"
	"github.com/pthm-cable/canopy/systems"
)

// Recorder observes population events. telemetry.Metrics implements it.
type Recorder interface {
	TreeCreated(species int, stage components.Stage)
	TreeKilled(species int, stage components.Stage, reason components.DeathReason)
	Transition(species int, from, to components.Stage)
}

type nopRecorder struct{}

func (nopRecorder) TreeCreated(int, components.Stage) {}

func (nopRecorder) TreeKilled(int, components.Stage, components.DeathReason) {}

func (nopRecorder) Transition(int, components.Stage, components.Stage) {}

// Manager is the single owner of the trees, the spatial-height index, the
// stump list and the species registry. All mutation goes through it.
type Manager struct {
	cfg  *config.Config
	reg  *components.Registry
	allo *allometry.Table
	plot *plot.Plot

	world  *ecs.World
	trees  *ecs.Map[components.Tree]
	links  *ecs.Map[components.Links]
	maker  *ecs.Map2[components.Tree, components.Links]
	filter *ecs.Filter1[components.Tree]

	idx    *systems.HeightIndex
	finder *systems.Finder
	stumps []ecs.Entity

	ghosts   archive.Archive
	rec      Recorder
	src      *rand.PCG
	rng      *rand.Rand
	timestep int
}

// New builds a manager for cfg. Dead trees go to ghosts; nil means an
// in-memory archive.
func New(cfg *config.Config, ghosts archive.Archive) (*Manager, error) {
	if cfg == nil {
		return nil, simerr.New(simerr.CantFindObject, "population.New", "no configuration")
	}
	reg, err := components.NewRegistry(cfg.SpeciesNames())
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterBase(); err != nil {
		return nil, err
	}
	allo, err := allometry.New(cfg.Species)
	if err != nil {
		return nil, err
	}
	p, err := plot.FromConfig(cfg.Plot)
	if err != nil {
		return nil, err
	}

	world := ecs.NewWorld()
	idx, err := systems.NewHeightIndex(world, p.XLength(), p.YLength(),
		cfg.Plot.GridCellSize, cfg.Plot.HeightDivWidth, allo.MaxHeightOverall())
	if err != nil {
		return nil, err
	}
	if ghosts == nil {
		ghosts = archive.NewMemory()
	}

	seed := cfg.Plot.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	m := &Manager{
		cfg:    cfg,
		reg:    reg,
		allo:   allo,
		plot:   p,
		world:  world,
		trees:  ecs.NewMap[components.Tree](world),
		links:  ecs.NewMap[components.Links](world),
		maker:  ecs.NewMap2[components.Tree, components.Links](world),
		filter: ecs.NewFilter1[components.Tree](world),
		idx:    idx,
		finder: systems.NewFinder(idx, reg, p),
		ghosts: ghosts,
		rec:    nopRecorder{},
		src:    src,
		rng:    rand.New(src),
	}

	slog.Info("population_ready",
		"species", reg.NumSpecies(),
		"grid_x", idx.NumXCells(),
		"grid_y", idx.NumYCells(),
		"height_divs", idx.NumHeightDivs(),
		"seed", seed,
	)
	return m, nil
}

// SetRecorder installs an event observer.
func (m *Manager) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	m.rec = r
}

// Registry returns the species and attribute registry.
func (m *Manager) Registry() *components.Registry { return m.reg }

// Allometry returns the allometry table.
func (m *Manager) Allometry() *allometry.Table { return m.allo }

// Plot returns the plot.
func (m *Manager) Plot() *plot.Plot { return m.plot }

// Index returns the spatial-height index. Callers must not mutate it.
func (m *Manager) Index() *systems.HeightIndex { return m.idx }

// Config returns the configuration the manager was built from.
func (m *Manager) Config() *config.Config { return m.cfg }

// Rand returns the manager's random stream, shared by behaviors so a run is
// reproducible from one seed.
func (m *Manager) Rand() *rand.Rand { return m.rng }

// Timestep returns the number of completed timesteps.
func (m *Manager) Timestep() int { return m.timestep }

// Archive returns the ghost archive.
func (m *Manager) Archive() archive.Archive { return m.ghosts }

// RegisterFloat adds a float attribute for a species and stage. Registration
// closes when the first tree is created.
func (m *Manager) RegisterFloat(label string, species int, stage components.Stage) (int, error) {
	return m.reg.RegisterFloat(label, species, stage)
}

// RegisterInt adds an integer attribute.
func (m *Manager) RegisterInt(label string, species int, stage components.Stage) (int, error) {
	return m.reg.RegisterInt(label, species, stage)
}

// RegisterString adds a text attribute.
func (m *Manager) RegisterString(label string, species int, stage components.Stage) (int, error) {
	return m.reg.RegisterString(label, species, stage)
}

// RegisterBool adds a boolean attribute.
func (m *Manager) RegisterBool(label string, species int, stage components.Stage) (int, error) {
	return m.reg.RegisterBool(label, species, stage)
}

// FloatCode returns the slot code of a float attribute, or -1.
func (m *Manager) FloatCode(label string, species int, stage components.Stage) int {
	return m.reg.Code(components.FloatSlot, label, species, stage)
}

// IntCode returns the slot code of an integer attribute, or -1.
func (m *Manager) IntCode(label string, species int, stage components.Stage) int {
	return m.reg.Code(components.IntSlot, label, species, stage)
}

// StringCode returns the slot code of a text attribute, or -1.
func (m *Manager) StringCode(label string, species int, stage components.Stage) int {
	return m.reg.Code(components.StringSlot, label, species, stage)
}

// BoolCode returns the slot code of a boolean attribute, or -1.
func (m *Manager) BoolCode(label string, species int, stage components.Stage) int {
	return m.reg.Code(components.BoolSlot, label, species, stage)
}

// Find runs a tree search. See systems.ParseQuery for the query language.
func (m *Manager) Find(query string) (*systems.Search, error) {
	return m.finder.Find(query)
}

// Tree returns the tree component of e. The pointer is valid until the next
// structural change of the population.
func (m *Manager) Tree(e ecs.Entity) (*components.Tree, error) {
	return m.tree("Tree", e)
}

func (m *Manager) tree(op string, e ecs.Entity) (*components.Tree, error) {
	if e == (ecs.Entity{}) || !m.world.Alive(e) || !m.trees.Has(e) {
		return nil, simerr.New(simerr.BadData, op, "entity %v is not a live tree", e)
	}
	return m.trees.Get(e), nil
}

// Flush repairs the index after deferred height changes.
func (m *Manager) Flush() {
	m.idx.FlushIfDirty()
}

// Count returns the number of trees, stumps included.
func (m *Manager) Count() int {
	return m.idx.Len() + len(m.stumps)
}

// Stumps returns the stumps created this timestep.
func (m *Manager) Stumps() []ecs.Entity {
	return append([]ecs.Entity(nil), m.stumps...)
}

// Each calls fn for every tree, stumps included. fn must not create or kill
// trees.
func (m *Manager) Each(fn func(e ecs.Entity, t *components.Tree)) {
	query := m.filter.Query()
	for query.Next() {
		fn(query.Entity(), query.Get())
	}
}

// newSeedlingDiam10 draws the default diameter of a seedling created without one.
func (m *Manager) newSeedlingDiam10(species int) float64 {
	r := m.cfg.Species[species].NewSeedlingDiam10
	return distuv.Uniform{Min: r.Min, Max: r.Max, Src: m.src}.Rand()
}

// CreateTree creates a tree at (x, y). size is diam10 for seedlings and DBH
// otherwise; 0 is only legal for seedlings and draws a default diameter.
// The stage is re-derived from the resulting size, so a seedling too tall
// for its species is created as a sapling.
func (m *Manager) CreateTree(x, y float64, species int, stage components.Stage, size float64) (ecs.Entity, error) {
	const op = "CreateTree"
	var none ecs.Entity

	if !m.plot.Contains(x, y) {
		return none, simerr.New(simerr.BadData, op, "tree position (%g, %g) is outside the plot", x, y)
	}
	if !m.reg.ValidSpecies(species) {
		return none, simerr.New(simerr.BadData, op, "unrecognized species code %d", species)
	}
	switch stage {
	case components.Seedling, components.Sapling, components.Adult, components.Snag, components.Stump:
	default:
		return none, simerr.New(simerr.BadData, op, "cannot create a tree of type %s", stage)
	}
	if size < 0 || math.IsNaN(size) {
		return none, simerr.New(simerr.BadData, op, "negative diameter %g", size)
	}
	if size == 0 {
		if stage != components.Seedling {
			return none, simerr.New(simerr.BadData, op, "%s diameter must be positive", stage)
		}
		size = m.newSeedlingDiam10(species)
	}

	var d dims
	var err error
	switch stage {
	case components.Seedling:
		d.diam10 = size
		d.height, err = m.allo.HeightFromDiameter(size, species, stage)
	case components.Sapling:
		d.dbh = size
		if d.diam10, err = m.allo.ConvertDbhToDiam10(size, species); err == nil {
			d.height, err = m.allo.HeightFromDiameter(size, species, stage)
		}
	case components.Adult, components.Snag:
		d.dbh = size
		d.height, err = m.allo.HeightFromDiameter(size, species, stage)
	case components.Stump:
		d.dbh = size
	}
	if err != nil {
		return none, err
	}

	path, err := m.settle(species, stage, &d)
	if err != nil {
		return none, err
	}
	if len(path) > 0 {
		stage = path[len(path)-1]
	}

	m.reg.Seal()
	tree := components.NewTree(m.reg.Layout(species, stage), x, y)
	applyDims(&tree, d)

	if stage == components.Stump {
		e := m.trees.NewEntity(&tree)
		m.stumps = append(m.stumps, e)
		m.rec.TreeCreated(species, stage)
		return e, nil
	}

	e := m.maker.NewEntity(&tree, &components.Links{})
	if err := m.idx.Insert(e); err != nil {
		if m.world.Alive(e) {
			m.world.RemoveEntity(e)
		}
		return none, err
	}
	m.rec.TreeCreated(species, stage)
	return e, nil
}

// UpdateFloat writes a float attribute. Writes to Height, Diam10 or DBH must
// be positive; with recompute the paired dimensions are derived through the
// allometry table. Size writes then run the life-stage state machine, and a
// height change either repairs the index now (updateNow) or marks it for a
// batch resort before the next search.
func (m *Manager) UpdateFloat(e ecs.Entity, code int, value float64, updateNow, recompute bool) error {
	const op = "UpdateFloat"
	t, err := m.tree(op, e)
	if err != nil {
		return err
	}
	if _, err := t.Float(code); err != nil {
		return err
	}
	l := t.Layout()
	if code == l.X || code == l.Y {
		return simerr.New(simerr.IllegalOperation, op, "tree coordinates are write-once")
	}
	if code != l.Height && code != l.Diam10 && code != l.DBH {
		return t.SetFloat(code, value)
	}
	if value <= 0 || math.IsNaN(value) {
		return simerr.New(simerr.IllegalOperation, op, "%s must be positive, got %g", l.Label(components.FloatSlot, code), value)
	}

	stage := t.Stage()
	if stage == components.Stump {
		return t.SetFloat(code, value)
	}

	oldHeight := t.Height()
	d := dimsOf(t)
	switch code {
	case l.Height:
		d.height = value
	case l.Diam10:
		d.diam10 = value
	case l.DBH:
		d.dbh = value
	}
	if recompute {
		if err := m.recompute(t, code, &d); err != nil {
			return err
		}
	}

	path, err := m.settle(t.Species, stage, &d)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		applyDims(t, d)
		if d.height == oldHeight {
			return nil
		}
		if updateNow {
			return m.idx.Reposition(e)
		}
		m.idx.MarkDirty()
		return nil
	}

	if err := m.idx.Remove(e); err != nil {
		return err
	}
	from := stage
	for _, to := range path {
		if err := m.changeType(t, to, d); err != nil {
			return err
		}
		m.rec.Transition(t.Species, from, to)
		slog.Debug("stage_transition", "species", t.Species, "from", from.String(), "to", to.String())
		from = to
	}
	return m.idx.Insert(e)
}

// UpdateInt writes an integer attribute.
func (m *Manager) UpdateInt(e ecs.Entity, code int, value int) error {
	t, err := m.tree("UpdateInt", e)
	if err != nil {
		return err
	}
	return t.SetInt(code, value)
}

// UpdateText writes a text attribute.
func (m *Manager) UpdateText(e ecs.Entity, code int, value string) error {
	t, err := m.tree("UpdateText", e)
	if err != nil {
		return err
	}
	return t.SetText(code, value)
}

// UpdateBool writes a boolean attribute.
func (m *Manager) UpdateBool(e ecs.Entity, code int, value bool) error {
	t, err := m.tree("UpdateBool", e)
	if err != nil {
		return err
	}
	return t.SetBool(code, value)
}

// CrownRadius returns the tree's crown radius, computing and caching it if
// it was reset by a size change.
func (m *Manager) CrownRadius(e ecs.Entity) (float64, error) {
	const op = "CrownRadius"
	t, err := m.tree(op, e)
	if err != nil {
		return 0, err
	}
	l := t.Layout()
	if l.CrownRadius < 0 {
		return 0, simerr.New(simerr.TreeWrongType, op, "%s trees have no crown", t.Stage())
	}
	v, _ := t.Float(l.CrownRadius)
	if v >= 0 {
		return v, nil
	}
	dbh, _ := t.Float(l.DBH)
	if v, err = m.allo.CrownRadius(dbh, t.Species); err != nil {
		return 0, err
	}
	return v, t.SetFloat(l.CrownRadius, v)
}

// CrownDepth returns the tree's crown depth, computing and caching it if it
// was reset by a size change.
func (m *Manager) CrownDepth(e ecs.Entity) (float64, error) {
	const op = "CrownDepth"
	t, err := m.tree(op, e)
	if err != nil {
		return 0, err
	}
	l := t.Layout()
	if l.CrownDepth < 0 {
		return 0, simerr.New(simerr.TreeWrongType, op, "%s trees have no crown", t.Stage())
	}
	v, _ := t.Float(l.CrownDepth)
	if v >= 0 {
		return v, nil
	}
	if v, err = m.allo.CrownDepth(t.Height(), t.Species); err != nil {
		return 0, err
	}
	return v, t.SetFloat(l.CrownDepth, v)
}
