// Package components defines ECS components for the tree population.
package components

import (
	"strings"

	"github.com/pthm-cable/canopy/simerr"
)

// Stage is a tree's life stage. The set is closed.
type Stage uint8

const (
	Seed Stage = iota
	Seedling
	Sapling
	Adult
	Snag
	Stump
	WoodyDebris
)

// NumStages is the number of life stages.
const NumStages = 7

var stageNames = [NumStages]string{"Seed", "Seedling", "Sapling", "Adult", "Snag", "Stump", "Woody_Debris"}

func (s Stage) String() string {
	if int(s) < NumStages {
		return stageNames[s]
	}
	return "Unknown"
}

// Bit returns the stage's bit in a type mask.
func (s Stage) Bit() uint32 {
	return 1 << s
}

// Valid reports whether s is one of the enumerated stages.
func (s Stage) Valid() bool {
	return int(s) < NumStages
}

// Living reports whether the stage is a live tree.
func (s Stage) Living() bool {
	return s == Seedling || s == Sapling || s == Adult
}

// Indexed reports whether trees of this stage live in the spatial-height index.
func (s Stage) Indexed() bool {
	return s.Living() || s == Snag
}

// ParseStage resolves a stage name (case-insensitive) or numeric code.
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(v)
	for i, name := range stageNames {
		if strings.EqualFold(v, name) || (len(v) == 1 && v[0] == byte('0'+i)) {
			return Stage(i), nil
		}
	}
	if strings.EqualFold(v, "woody debris") || strings.EqualFold(v, "woodydebris") {
		return WoodyDebris, nil
	}
	return 0, simerr.New(simerr.BadData, "ParseStage", "unrecognized tree type %q", v)
}
