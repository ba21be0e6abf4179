// Package plot describes the simulated plot: its extents, area and
// boundary-corrected distances. The plot is a torus.
package plot

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/simerr"
)

// Plot is a rectangular plot wrapped at its edges.
type Plot struct {
	xLen, yLen float64
}

// New creates a plot of the given extents in metres.
func New(xLen, yLen float64) (*Plot, error) {
	if xLen <= 0 || yLen <= 0 {
		return nil, simerr.New(simerr.BadData, "plot.New", "plot extents must be positive, got %g x %g", xLen, yLen)
	}
	return &Plot{xLen: xLen, yLen: yLen}, nil
}

// FromConfig creates the plot described by cfg.
func FromConfig(cfg config.PlotConfig) (*Plot, error) {
	return New(cfg.XLength, cfg.YLength)
}

// XLength returns the east-west extent in metres.
func (p *Plot) XLength() float64 { return p.xLen }

// YLength returns the north-south extent in metres.
func (p *Plot) YLength() float64 { return p.yLen }

// AreaHa returns the plot area in hectares.
func (p *Plot) AreaHa() float64 {
	return p.xLen * p.yLen / 10000
}

// Contains reports whether (x, y) lies inside [0, XLength) x [0, YLength).
func (p *Plot) Contains(x, y float64) bool {
	return x >= 0 && x < p.xLen && y >= 0 && y < p.yLen
}

// ToroidalDelta returns the shortest path delta from (x1,y1) to (x2,y2).
func (p *Plot) ToroidalDelta(x1, y1, x2, y2 float64) r2.Vec {
	dx := x2 - x1
	dy := y2 - y1

	if dx > p.xLen/2 {
		dx -= p.xLen
	} else if dx < -p.xLen/2 {
		dx += p.xLen
	}
	if dy > p.yLen/2 {
		dy -= p.yLen
	} else if dy < -p.yLen/2 {
		dy += p.yLen
	}

	return r2.Vec{X: dx, Y: dy}
}

// Distance returns the boundary-corrected distance between two points.
func (p *Plot) Distance(x1, y1, x2, y2 float64) float64 {
	return r2.Norm(p.ToroidalDelta(x1, y1, x2, y2))
}
