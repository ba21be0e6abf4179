package components

import (
	"strings"

	"github.com/pthm-cable/canopy/simerr"
)

// DeathReason is why a tree was killed. NotDead is not a valid kill reason.
type DeathReason uint8

const (
	NotDead DeathReason = iota
	Harvest
	Natural
	Disease
	Fire
	Insects
	Storm
	RemoveTree
)

var deathNames = [...]string{"not_dead", "harvest", "natural", "disease", "fire", "insects", "storm", "remove_tree"}

func (r DeathReason) String() string {
	if int(r) < len(deathNames) {
		return deathNames[r]
	}
	return "unknown"
}

// NaturalCause reports whether the reason can leave a standing snag.
func (r DeathReason) NaturalCause() bool {
	switch r {
	case Natural, Disease, Fire, Insects, Storm:
		return true
	}
	return false
}

// ParseDeathReason resolves a reason name.
func ParseDeathReason(s string) (DeathReason, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range deathNames {
		if s == name {
			return DeathReason(i), nil
		}
	}
	return 0, simerr.New(simerr.BadData, "ParseDeathReason", "unrecognized death reason %q", s)
}
