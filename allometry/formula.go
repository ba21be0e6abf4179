// Package allometry derives one tree dimension from another using
// per-species formulas chosen from parameter data.
package allometry

import (
	"math"
	"strings"

	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/simerr"
)

// Kind is a formula family. The set is closed; evaluation is a switch.
type Kind uint8

const (
	// Standard height: H = 1.35 + (Hmax-1.35)(1-exp(-A*D)).
	// Standard crown radius: r = A*DBH^B. Standard crown depth: d = A*H^B.
	Standard Kind = iota
	// Linear: H = A + B*D.
	Linear
	// ReverseLinear: D = A + B*H.
	ReverseLinear
	// Power: H = A*D^B.
	Power
	// ChapmanRichards: y = I + A(1-exp(-B*x))^C, with I = 1.35 for heights.
	ChapmanRichards
)

// breastHeight is the height in metres at which DBH is measured.
const breastHeight = 1.35

// maxFraction caps the asymptote fraction when inverting saturating curves.
const maxFraction = 0.9999

var kindNames = map[string]Kind{
	"standard":         Standard,
	"linear":           Linear,
	"reverse_linear":   ReverseLinear,
	"power":            Power,
	"chapman_richards": ChapmanRichards,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return "unknown"
}

// ParseKind resolves a formula name.
func ParseKind(s string) (Kind, error) {
	k, ok := kindNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, simerr.New(simerr.BadData, "ParseKind", "unrecognized allometry function %q", s)
	}
	return k, nil
}

// Formula is one parameterised member of a formula family.
type Formula struct {
	Kind       Kind
	A, B, C, I float64
	Max        float64 // cap on the result; 0 = none
}

func formulaFromConfig(fc config.FormulaConfig, what string) (Formula, error) {
	kind := Standard
	if fc.Kind != "" {
		var err error
		if kind, err = ParseKind(fc.Kind); err != nil {
			return Formula{}, simerr.New(simerr.BadData, "allometry", "%s: %v", what, err)
		}
	}
	f := Formula{Kind: kind, A: fc.A, B: fc.B, C: fc.C, I: fc.I, Max: fc.Max}
	if f.C == 0 {
		f.C = 1
	}
	return f, nil
}

// checkHeight validates a height-diameter formula.
func (f Formula) checkHeight(what string) error {
	bad := false
	switch f.Kind {
	case Standard:
		bad = f.A <= 0
	case Linear, ReverseLinear:
		bad = f.B == 0
	case Power:
		bad = f.A <= 0 || f.B <= 0
	case ChapmanRichards:
		bad = f.A <= 0 || f.B <= 0 || f.C <= 0
	default:
		bad = true
	}
	if bad {
		return simerr.New(simerr.BadData, "allometry", "%s: invalid %s parameters a=%g b=%g c=%g", what, f.Kind, f.A, f.B, f.C)
	}
	return nil
}

func (f Formula) checkCrown(what string) error {
	bad := false
	switch f.Kind {
	case Standard:
		bad = f.A <= 0
	case ChapmanRichards:
		bad = f.A <= 0 || f.B <= 0 || f.C <= 0
	default:
		bad = true
	}
	if bad {
		return simerr.New(simerr.BadData, "allometry", "%s: %s is not a crown function or has invalid parameters", what, f.Kind)
	}
	return nil
}

// height evaluates a height-diameter formula. maxHeight bounds the result
// and is the asymptote of the standard curve.
func (f Formula) height(d, maxHeight float64) float64 {
	var h float64
	switch f.Kind {
	case Standard:
		h = breastHeight + (maxHeight-breastHeight)*(1-math.Exp(-f.A*d))
	case Linear:
		h = f.A + f.B*d
	case ReverseLinear:
		h = (d - f.A) / f.B
	case Power:
		h = f.A * math.Pow(d, f.B)
	case ChapmanRichards:
		h = breastHeight + f.A*math.Pow(1-math.Exp(-f.B*d), f.C)
	}
	return clamp(h, 0, maxHeight)
}

// diameter inverts height.
func (f Formula) diameter(h, maxHeight float64) float64 {
	var d float64
	switch f.Kind {
	case Standard:
		x := clamp((h-breastHeight)/(maxHeight-breastHeight), 0, maxFraction)
		d = -math.Log(1-x) / f.A
	case Linear:
		d = (h - f.A) / f.B
	case ReverseLinear:
		d = f.A + f.B*h
	case Power:
		d = math.Pow(h/f.A, 1/f.B)
	case ChapmanRichards:
		y := clamp((h-breastHeight)/f.A, 0, maxFraction)
		d = -math.Log(1-math.Pow(y, 1/f.C)) / f.B
	}
	return math.Max(d, 0)
}

// crown evaluates a crown radius or crown depth formula.
func (f Formula) crown(x float64) float64 {
	var v float64
	switch f.Kind {
	case Standard:
		v = f.A * math.Pow(x, f.B)
	case ChapmanRichards:
		v = f.I + f.A*math.Pow(1-math.Exp(-f.B*x), f.C)
	}
	if f.Max > 0 && v > f.Max {
		v = f.Max
	}
	return math.Max(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
