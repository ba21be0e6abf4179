package systems

import (
	"math"
	"strconv"
	"strings"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/plot"
	"github.com/pthm-cable/canopy/simerr"
)

// Query is a parsed tree search. Zero-valued restrictions match everything.
type Query struct {
	Species   []bool // indexed by species code; nil = any
	Types     uint32 // stage bits; 0 = any
	MinHeight float64
	HasHeight bool

	HasDistance bool
	Distance    float64
	X, Y        float64
}

// ParseQuery parses a "::"-separated search string such as
// "species=0,Western_Hemlock::type=Adult::distance=10 FROM x=5 y=5".
// Species and types may be given by code or name.
func ParseQuery(s string, reg *components.Registry) (Query, error) {
	const op = "ParseQuery"
	var q Query
	if strings.TrimSpace(s) == "" {
		return q, simerr.New(simerr.BadData, op, "empty search string")
	}

	seen := map[string]bool{}
	for _, clause := range strings.Split(s, "::") {
		clause = strings.TrimSpace(clause)
		if strings.EqualFold(clause, "all") {
			continue
		}
		key, value, ok := strings.Cut(clause, "=")
		if !ok {
			return q, simerr.New(simerr.BadData, op, "malformed clause %q", clause)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if seen[key] {
			return q, simerr.New(simerr.BadData, op, "clause %q given twice", key)
		}
		seen[key] = true

		var err error
		switch key {
		case "species":
			q.Species, err = parseSpecies(value, reg)
		case "type":
			q.Types, err = parseTypes(value)
		case "height":
			q.MinHeight, err = parseNumber("height", value)
			q.HasHeight = true
		case "distance":
			err = parseDistance(value, &q)
		default:
			err = simerr.New(simerr.BadData, op, "unrecognized search clause %q", key)
		}
		if err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseSpecies(value string, reg *components.Registry) ([]bool, error) {
	items := splitList(value)
	if len(items) == 0 {
		return nil, simerr.New(simerr.BadData, "ParseQuery", "species clause has no values")
	}
	set := make([]bool, reg.NumSpecies())
	for _, item := range items {
		code, err := strconv.Atoi(item)
		if err != nil {
			if code, err = reg.SpeciesCode(item); err != nil {
				return nil, err
			}
		}
		if !reg.ValidSpecies(code) {
			return nil, simerr.New(simerr.BadData, "ParseQuery", "unrecognized species code %d", code)
		}
		set[code] = true
	}
	return set, nil
}

func parseTypes(value string) (uint32, error) {
	items := splitList(value)
	if len(items) == 0 {
		return 0, simerr.New(simerr.BadData, "ParseQuery", "type clause has no values")
	}
	var mask uint32
	for _, item := range items {
		stage, err := components.ParseStage(item)
		if err != nil {
			return 0, err
		}
		mask |= stage.Bit()
	}
	return mask, nil
}

func parseNumber(what, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, simerr.New(simerr.BadData, "ParseQuery", "bad %s value %q", what, s)
	}
	return v, nil
}

// parseDistance reads "D FROM x=X y=Y"; the coordinates may also be comma separated.
func parseDistance(value string, q *Query) error {
	const op = "ParseQuery"
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' })
	if len(fields) != 4 || !strings.EqualFold(fields[1], "FROM") {
		return simerr.New(simerr.BadData, op, "distance clause must read \"D FROM x=X y=Y\", got %q", value)
	}
	d, err := parseNumber("distance", fields[0])
	if err != nil {
		return err
	}
	if d < 0 {
		return simerr.New(simerr.BadData, op, "negative search distance %g", d)
	}
	q.Distance, q.HasDistance = d, true

	for _, f := range fields[2:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return simerr.New(simerr.BadData, op, "malformed distance origin %q", f)
		}
		n, err := parseNumber(k, v)
		if err != nil {
			return err
		}
		switch strings.ToLower(k) {
		case "x":
			q.X = n
		case "y":
			q.Y = n
		default:
			return simerr.New(simerr.BadData, op, "unrecognized distance origin %q", k)
		}
	}
	return nil
}

// Finder runs searches over a HeightIndex and tracks the open iterators so
// they can be invalidated at the end of a timestep.
type Finder struct {
	idx  *HeightIndex
	reg  *components.Registry
	plot *plot.Plot
	open []*Search
}

// NewFinder creates a search engine over idx.
func NewFinder(idx *HeightIndex, reg *components.Registry, p *plot.Plot) *Finder {
	return &Finder{idx: idx, reg: reg, plot: p}
}

// Find parses query and returns an iterator positioned before the first
// match. A pending resort is run first.
func (f *Finder) Find(query string) (*Search, error) {
	q, err := ParseQuery(query, f.reg)
	if err != nil {
		return nil, err
	}
	return f.FindQuery(q)
}

// FindQuery is Find for an already parsed query.
func (f *Finder) FindQuery(q Query) (*Search, error) {
	if q.HasDistance && !f.plot.Contains(q.X, q.Y) {
		return nil, simerr.New(simerr.BadData, "Find", "search origin (%g, %g) is outside the plot", q.X, q.Y)
	}
	f.idx.FlushIfDirty()
	s := &Search{finder: f, q: q, valid: true}
	s.cells = f.cells(q)
	s.StartOver()
	f.open = append(f.open, s)
	return s, nil
}

// InvalidateAll closes every open iterator.
func (f *Finder) InvalidateAll() {
	for _, s := range f.open {
		s.valid = false
		s.buf = nil
	}
	f.open = f.open[:0]
}

// Open returns the number of live iterators.
func (f *Finder) Open() int {
	return len(f.open)
}

// cells lists the flat cells a query must visit, in grid order.
func (f *Finder) cells(q Query) []int {
	idx := f.idx
	if !q.HasDistance {
		cells := make([]int, idx.numX*idx.numY)
		for i := range cells {
			cells[i] = i
		}
		return cells
	}

	cols := span(q.X, q.Distance, idx.xLen, idx.cellSize, idx.numX)
	rows := span(q.Y, q.Distance, idx.yLen, idx.cellSize, idx.numY)
	cells := make([]int, 0, len(cols)*len(rows))
	for _, cx := range cols {
		for _, cy := range rows {
			cells = append(cells, idx.cell(cx, cy))
		}
	}
	return cells
}

// span lists the grid columns (or rows) holding any point within d of
// center along one axis of length length, wrapping at the edges. The last
// column may be narrower than cellSize.
func span(center, d, length, cellSize float64, n int) []int {
	if 2*d >= length {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	lo := wrap(center-d, length)
	hi := wrap(center+d, length)
	first := min(int(lo/cellSize), n-1)
	last := min(int(hi/cellSize), n-1)
	if first == last && lo > hi {
		// The interval wraps all the way round and only misses part of one column.
		return span(center, length, length, cellSize, n)
	}
	var out []int
	for c := first; ; c = (c + 1) % n {
		out = append(out, c)
		if c == last {
			break
		}
	}
	return out
}

func wrap(v, length float64) float64 {
	v = math.Mod(v, length)
	if v < 0 {
		v += length
	}
	if v >= length {
		v = 0
	}
	return v
}

// Search is a lazy iterator over the trees matching a query. Cells are read
// one at a time; a cell's matches are buffered when the iterator enters it,
// so trees returned earlier may be killed or updated while iterating. Trees
// that left the index or stopped matching since are skipped.
type Search struct {
	finder *Finder
	q      Query
	valid  bool

	cells []int
	ci    int
	buf   []ecs.Entity
	bi    int
}

// StartOver rewinds the iterator. It fails once the iterator was invalidated.
func (s *Search) StartOver() error {
	if !s.valid {
		return simerr.New(simerr.IllegalOperation, "StartOver", "search was invalidated at end of timestep")
	}
	s.finder.idx.FlushIfDirty()
	s.ci = 0
	s.buf = s.buf[:0]
	s.bi = 0
	return nil
}

// Valid reports whether the iterator is still usable.
func (s *Search) Valid() bool {
	return s.valid
}

// NextTree returns the next matching tree, or false when the search is
// exhausted or invalidated.
func (s *Search) NextTree() (ecs.Entity, bool) {
	if !s.valid {
		return none, false
	}
	for {
		for s.bi < len(s.buf) {
			e := s.buf[s.bi]
			s.bi++
			if s.finder.idx.Indexed(e) && s.matches(e) {
				return e, true
			}
		}
		if s.ci >= len(s.cells) {
			return none, false
		}
		s.fill(s.cells[s.ci])
		s.ci++
	}
}

// fill buffers the matches of one cell in chain order. Deferred height
// updates made since the previous cell are resorted first.
func (s *Search) fill(cell int) {
	idx := s.finder.idx
	idx.FlushIfDirty()
	s.buf = s.buf[:0]
	s.bi = 0

	start := idx.shortestFrom(cell, 0)
	if s.q.HasHeight {
		start = idx.shortestFrom(cell, idx.ClassOf(s.q.MinHeight))
	}
	for e := start; !isNone(e); e = idx.links.Get(e).Taller {
		if s.matches(e) {
			s.buf = append(s.buf, e)
		}
	}
}

func (s *Search) matches(e ecs.Entity) bool {
	tree := s.finder.idx.trees.Get(e)
	if s.q.Species != nil && !s.q.Species[tree.Species] {
		return false
	}
	if s.q.Types != 0 && s.q.Types&tree.Stage().Bit() == 0 {
		return false
	}
	if s.q.HasHeight && tree.Height() < s.q.MinHeight {
		return false
	}
	if s.q.HasDistance && s.finder.plot.Distance(s.q.X, s.q.Y, tree.X(), tree.Y()) > s.q.Distance {
		return false
	}
	return true
}

// All drains the iterator into a slice.
func (s *Search) All() []ecs.Entity {
	var out []ecs.Entity
	for e, ok := s.NextTree(); ok; e, ok = s.NextTree() {
		out = append(out, e)
	}
	return out
}
