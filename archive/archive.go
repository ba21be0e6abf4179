// Package archive keeps the ghost population: a record of every tree that
// was killed, written before the tree is converted or removed.
package archive

import (
	"sync"

	"github.com/pthm-cable/canopy/components"
)

// Ghost is the last state of a killed tree.
type Ghost struct {
	Timestep int
	Species  int
	Stage    components.Stage
	Reason   components.DeathReason
	X, Y     float64
	Height   float64
	Diameter float64 // diam10 for seedlings, DBH otherwise
}

// Archive receives dead trees.
type Archive interface {
	Add(g Ghost) error
	Len() int
	Close() error
}

// Memory is an in-process archive.
type Memory struct {
	mu     sync.RWMutex
	ghosts []Ghost
}

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{}
}

// Add appends a ghost.
func (m *Memory) Add(g Ghost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ghosts = append(m.ghosts, g)
	return nil
}

// Len returns the number of archived trees.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ghosts)
}

// Ghosts returns a copy of the archive in kill order.
func (m *Memory) Ghosts() []Ghost {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Ghost(nil), m.ghosts...)
}

// CountByReason tallies the archive per death reason.
func (m *Memory) CountByReason() map[components.DeathReason]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[components.DeathReason]int)
	for _, g := range m.ghosts {
		out[g.Reason]++
	}
	return out
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
