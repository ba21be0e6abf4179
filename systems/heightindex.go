// Package systems provides the spatial-height index and the tree search engine.
package systems

import (
	"cmp"
	"math"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/simerr"
)

// bucket marks the first and last tree of one height class in a cell's chain.
type bucket struct {
	shortest ecs.Entity
	tallest  ecs.Entity
}

// HeightIndex files every indexed tree under a grid cell and a height class.
// Within a cell all trees form one chain ordered by ascending height through
// their Links component; each height class records where its run of the
// chain starts and ends. A tree's Taller link may cross into the next
// populated class, skipping empty ones.
//
// Heights may change without the chain being repaired (MarkDirty). While
// dirty, trees stay contiguous by the class they were filed under, inserts
// append to the tail of their class, and FullResort restores height order.
type HeightIndex struct {
	world *ecs.World
	trees *ecs.Map[components.Tree]
	links *ecs.Map[components.Links]

	xLen, yLen float64
	cellSize   float64
	divWidth   float64
	numX, numY int
	numDivs    int

	buckets []bucket // [cell*numDivs + class]
	count   int
	dirty   bool
}

// none is the null link.
var none ecs.Entity

func isNone(e ecs.Entity) bool {
	return e == none
}

// NewHeightIndex creates an index over a plot of xLen x yLen metres. The
// number of height classes covers maxHeight; taller trees share the last class.
func NewHeightIndex(world *ecs.World, xLen, yLen, cellSize, divWidth, maxHeight float64) (*HeightIndex, error) {
	const op = "NewHeightIndex"
	if xLen <= 0 || yLen <= 0 {
		return nil, simerr.New(simerr.BadData, op, "plot extents must be positive, got %g x %g", xLen, yLen)
	}
	if cellSize <= 0 || divWidth <= 0 {
		return nil, simerr.New(simerr.BadData, op, "cell size %g and height class width %g must be positive", cellSize, divWidth)
	}
	if maxHeight <= 0 {
		return nil, simerr.New(simerr.BadData, op, "max tree height must be positive, got %g", maxHeight)
	}

	h := &HeightIndex{
		world:    world,
		trees:    ecs.NewMap[components.Tree](world),
		links:    ecs.NewMap[components.Links](world),
		xLen:     xLen,
		yLen:     yLen,
		cellSize: cellSize,
		divWidth: divWidth,
		numX:     int(math.Ceil(xLen / cellSize)),
		numY:     int(math.Ceil(yLen / cellSize)),
		numDivs:  int(maxHeight/divWidth) + 1,
	}
	h.buckets = make([]bucket, h.numX*h.numY*h.numDivs)
	return h, nil
}

// NumXCells returns the number of grid cells east-west.
func (h *HeightIndex) NumXCells() int { return h.numX }

// NumYCells returns the number of grid cells north-south.
func (h *HeightIndex) NumYCells() int { return h.numY }

// NumHeightDivs returns the number of height classes.
func (h *HeightIndex) NumHeightDivs() int { return h.numDivs }

// CellSize returns the grid cell edge in metres.
func (h *HeightIndex) CellSize() float64 { return h.cellSize }

// DivWidth returns the height class width in metres.
func (h *HeightIndex) DivWidth() float64 { return h.divWidth }

// Len returns the number of indexed trees.
func (h *HeightIndex) Len() int { return h.count }

// CellOf returns the grid cell holding (x, y).
func (h *HeightIndex) CellOf(x, y float64) (cx, cy int, err error) {
	if x < 0 || x >= h.xLen || y < 0 || y >= h.yLen || math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, simerr.New(simerr.BadData, "CellOf", "point (%g, %g) is outside the plot", x, y)
	}
	cx = min(int(x/h.cellSize), h.numX-1)
	cy = min(int(y/h.cellSize), h.numY-1)
	return cx, cy, nil
}

// ClassOf returns the height class of a height, clamped to the last class.
func (h *HeightIndex) ClassOf(height float64) int {
	if height <= 0 || math.IsNaN(height) {
		return 0
	}
	c := int(height / h.divWidth)
	if c >= h.numDivs {
		return h.numDivs - 1
	}
	return c
}

func (h *HeightIndex) cell(cx, cy int) int {
	return cx*h.numY + cy
}

func (h *HeightIndex) checkCell(op string, cx, cy int) error {
	if cx < 0 || cx >= h.numX || cy < 0 || cy >= h.numY {
		return simerr.New(simerr.BadData, op, "grid cell (%d, %d) out of range %d x %d", cx, cy, h.numX, h.numY)
	}
	return nil
}

func (h *HeightIndex) bucketAt(cell, class int) *bucket {
	return &h.buckets[cell*h.numDivs+class]
}

func (h *HeightIndex) height(e ecs.Entity) float64 {
	return h.trees.Get(e).Height()
}

// tallestBelow returns the tallest tree of the nearest populated class under class.
func (h *HeightIndex) tallestBelow(cell, class int) ecs.Entity {
	for c := class - 1; c >= 0; c-- {
		if b := h.bucketAt(cell, c); !isNone(b.tallest) {
			return b.tallest
		}
	}
	return none
}

// shortestFrom returns the shortest tree of the nearest populated class at or above class.
func (h *HeightIndex) shortestFrom(cell, class int) ecs.Entity {
	for c := class; c < h.numDivs; c++ {
		if b := h.bucketAt(cell, c); !isNone(b.shortest) {
			return b.shortest
		}
	}
	return none
}

func (h *HeightIndex) member(op string, e ecs.Entity) (*components.Links, error) {
	if isNone(e) || !h.world.Alive(e) || !h.trees.Has(e) || !h.links.Has(e) {
		return nil, simerr.New(simerr.BadData, op, "entity %v is not an indexable tree", e)
	}
	return h.links.Get(e), nil
}

// Insert files a tree under its cell and height class. The tree's X, Y and
// Height must already be set. A tree outside the plot is removed from the
// world and BadData is returned, so a failed insert never leaves an
// unreachable tree behind.
func (h *HeightIndex) Insert(e ecs.Entity) error {
	const op = "Insert"
	lk, err := h.member(op, e)
	if err != nil {
		return err
	}
	if lk.Indexed {
		return simerr.New(simerr.IllegalOperation, op, "tree %v is already indexed", e)
	}
	tree := h.trees.Get(e)
	if !tree.Stage().Indexed() {
		return simerr.New(simerr.TreeWrongType, op, "%s trees are not indexed", tree.Stage())
	}
	cx, cy, err := h.CellOf(tree.X(), tree.Y())
	if err != nil {
		h.world.RemoveEntity(e)
		return err
	}
	ht := tree.Height()
	h.insertAt(e, lk, h.cell(cx, cy), h.ClassOf(ht), ht)
	h.count++
	return nil
}

// insertAt splices e into the chain of cell under class. A tree entering
// among trees of equal height goes in front of them.
func (h *HeightIndex) insertAt(e ecs.Entity, lk *components.Links, cell, class int, ht float64) {
	b := h.bucketAt(cell, class)
	var prev, next ecs.Entity

	switch {
	case isNone(b.shortest):
		prev = h.tallestBelow(cell, class)
		next = h.shortestFrom(cell, class+1)
		b.shortest, b.tallest = e, e
	case h.dirty:
		// Heights are stale; keep the class contiguous and let FullResort order it.
		prev = b.tallest
		next = h.links.Get(prev).Taller
		b.tallest = e
	case ht <= h.height(b.shortest):
		next = b.shortest
		prev = h.links.Get(next).Shorter
		b.shortest = e
	default:
		prev = b.shortest
		for {
			nx := h.links.Get(prev).Taller
			if isNone(nx) || h.height(nx) >= ht {
				break
			}
			prev = nx
		}
		next = h.links.Get(prev).Taller
		if prev == b.tallest {
			b.tallest = e
		}
	}

	lk.Shorter, lk.Taller = prev, next
	if !isNone(prev) {
		h.links.Get(prev).Taller = e
	}
	if !isNone(next) {
		h.links.Get(next).Shorter = e
	}
	lk.Cell, lk.Class, lk.Indexed = cell, class, true
}

// Remove takes a tree out of the index, repairing its class markers.
func (h *HeightIndex) Remove(e ecs.Entity) error {
	const op = "Remove"
	lk, err := h.member(op, e)
	if err != nil {
		return err
	}
	if !lk.Indexed {
		return simerr.New(simerr.BadData, op, "tree %v is not indexed", e)
	}
	h.unlink(e, lk)
	h.count--
	return nil
}

func (h *HeightIndex) unlink(e ecs.Entity, lk *components.Links) {
	prev, next := lk.Shorter, lk.Taller
	if !isNone(prev) {
		h.links.Get(prev).Taller = next
	}
	if !isNone(next) {
		h.links.Get(next).Shorter = prev
	}

	b := h.bucketAt(lk.Cell, lk.Class)
	if b.shortest == e {
		if !isNone(next) && h.links.Get(next).Class == lk.Class {
			b.shortest = next
		} else {
			b.shortest = none
		}
	}
	if b.tallest == e {
		if !isNone(prev) && h.links.Get(prev).Class == lk.Class {
			b.tallest = prev
		} else {
			b.tallest = none
		}
	}
	*lk = components.Links{}
}

// Reposition restores a tree's place after its height changed in place. If
// the tree still sits between its neighbours and in its old class nothing
// moves; otherwise it is spliced out and filed again under its new class.
// On a dirty index the whole index is resorted instead.
func (h *HeightIndex) Reposition(e ecs.Entity) error {
	const op = "Reposition"
	lk, err := h.member(op, e)
	if err != nil {
		return err
	}
	if !lk.Indexed {
		return simerr.New(simerr.BadData, op, "tree %v is not indexed", e)
	}
	if h.dirty {
		h.FullResort()
		return nil
	}

	ht := h.height(e)
	class := h.ClassOf(ht)
	if class == lk.Class &&
		(isNone(lk.Shorter) || h.height(lk.Shorter) <= ht) &&
		(isNone(lk.Taller) || h.height(lk.Taller) >= ht) {
		return nil
	}

	cell := lk.Cell
	h.unlink(e, lk)
	h.insertAt(e, lk, cell, class, ht)
	return nil
}

// MarkDirty records that heights changed without repairing the index.
func (h *HeightIndex) MarkDirty() {
	h.dirty = true
}

// Dirty reports whether a FullResort is pending.
func (h *HeightIndex) Dirty() bool {
	return h.dirty
}

// FlushIfDirty runs FullResort if heights changed since the last repair.
// Any query must call it first. Returns whether a resort ran.
func (h *HeightIndex) FlushIfDirty() bool {
	if !h.dirty {
		return false
	}
	h.FullResort()
	return true
}

// FullResort rebuilds every cell's chain in height order and re-derives all
// class markers. Trees of equal height keep their relative order.
func (h *HeightIndex) FullResort() {
	var trees []ecs.Entity
	for cell := 0; cell < h.numX*h.numY; cell++ {
		trees = h.collect(cell, trees[:0])
		if len(trees) == 0 {
			continue
		}
		slices.SortStableFunc(trees, func(a, b ecs.Entity) int {
			return cmp.Compare(h.height(a), h.height(b))
		})

		base := cell * h.numDivs
		clear(h.buckets[base : base+h.numDivs])

		prev := none
		for _, e := range trees {
			lk := h.links.Get(e)
			class := h.ClassOf(h.height(e))
			lk.Shorter, lk.Taller, lk.Class = prev, none, class
			if !isNone(prev) {
				h.links.Get(prev).Taller = e
			}
			b := &h.buckets[base+class]
			if isNone(b.shortest) {
				b.shortest = e
			}
			b.tallest = e
			prev = e
		}
	}
	h.dirty = false
}

// collect appends the chain of cell to dst.
func (h *HeightIndex) collect(cell int, dst []ecs.Entity) []ecs.Entity {
	for e := h.shortestFrom(cell, 0); !isNone(e); e = h.links.Get(e).Taller {
		dst = append(dst, e)
	}
	return dst
}

// ShortestInCell returns the shortest tree in a grid cell, or the zero
// entity if the cell is empty.
func (h *HeightIndex) ShortestInCell(cx, cy int) (ecs.Entity, error) {
	if err := h.checkCell("ShortestInCell", cx, cy); err != nil {
		return none, err
	}
	return h.shortestFrom(h.cell(cx, cy), 0), nil
}

// TallestInCell returns the tallest tree in a grid cell, or the zero entity
// if the cell is empty.
func (h *HeightIndex) TallestInCell(cx, cy int) (ecs.Entity, error) {
	if err := h.checkCell("TallestInCell", cx, cy); err != nil {
		return none, err
	}
	return h.tallestBelow(h.cell(cx, cy), h.numDivs), nil
}

// Bucket returns the first and last tree filed under a height class of a cell.
func (h *HeightIndex) Bucket(cx, cy, class int) (shortest, tallest ecs.Entity, err error) {
	if err := h.checkCell("Bucket", cx, cy); err != nil {
		return none, none, err
	}
	if class < 0 || class >= h.numDivs {
		return none, none, simerr.New(simerr.BadData, "Bucket", "height class %d out of range %d", class, h.numDivs)
	}
	b := h.bucketAt(h.cell(cx, cy), class)
	return b.shortest, b.tallest, nil
}

// Taller returns the next tree up the chain, or the zero entity.
func (h *HeightIndex) Taller(e ecs.Entity) ecs.Entity {
	return h.links.Get(e).Taller
}

// Shorter returns the next tree down the chain, or the zero entity.
func (h *HeightIndex) Shorter(e ecs.Entity) ecs.Entity {
	return h.links.Get(e).Shorter
}

// Indexed reports whether e is currently filed in the index.
func (h *HeightIndex) Indexed(e ecs.Entity) bool {
	return !isNone(e) && h.world.Alive(e) && h.links.Has(e) && h.links.Get(e).Indexed
}

// Walk calls fn for each tree of a cell in chain order until fn returns false.
func (h *HeightIndex) Walk(cx, cy int, fn func(e ecs.Entity) bool) error {
	if err := h.checkCell("Walk", cx, cy); err != nil {
		return err
	}
	for e := h.shortestFrom(h.cell(cx, cy), 0); !isNone(e); e = h.links.Get(e).Taller {
		if !fn(e) {
			break
		}
	}
	return nil
}
