package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/pthm-cable/canopy/components"
)

// SQLite archives ghosts to a single table, one row per killed tree.
type SQLite struct {
	db     *sql.DB
	insert *sql.Stmt
	count  int
}

// NewSQLite opens (or creates) the archive database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "ghosts.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ghosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestep INTEGER NOT NULL,
		species INTEGER NOT NULL,
		stage TEXT NOT NULL,
		reason TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		height REAL NOT NULL,
		diameter REAL NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ghosts table: %w", err)
	}
	insert, err := db.Prepare(`INSERT INTO ghosts (timestep, species, stage, reason, x, y, height, diameter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	s := &SQLite{db: db, insert: insert}
	if err := db.QueryRow(`SELECT COUNT(*) FROM ghosts`).Scan(&s.count); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("count ghosts: %w", err)
	}
	return s, nil
}

// Add writes one ghost row.
func (s *SQLite) Add(g Ghost) error {
	if _, err := s.insert.Exec(g.Timestep, g.Species, g.Stage.String(), g.Reason.String(),
		g.X, g.Y, g.Height, g.Diameter); err != nil {
		return fmt.Errorf("insert ghost: %w", err)
	}
	s.count++
	return nil
}

// Len returns the number of archived trees, including those of earlier runs
// sharing the database.
func (s *SQLite) Len() int {
	return s.count
}

// Ghosts reads the whole archive in insertion order.
func (s *SQLite) Ghosts() ([]Ghost, error) {
	rows, err := s.db.Query(`SELECT timestep, species, stage, reason, x, y, height, diameter FROM ghosts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select ghosts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Ghost
	for rows.Next() {
		var (
			g             Ghost
			stage, reason string
		)
		if err := rows.Scan(&g.Timestep, &g.Species, &stage, &reason, &g.X, &g.Y, &g.Height, &g.Diameter); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if g.Stage, err = components.ParseStage(stage); err != nil {
			return nil, err
		}
		if g.Reason, err = components.ParseDeathReason(reason); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close releases the database.
func (s *SQLite) Close() error {
	_ = s.insert.Close()
	return s.db.Close()
}
