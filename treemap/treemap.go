// Package treemap reads and writes tab-delimited tree maps:
//
//	X	Y	Species	Type	Diam	Height	[extra columns...]
//
// Species and Type may be names or codes. Diam is diam10 for seedlings and
// DBH otherwise. A Height of 0 (or an empty cell) is derived from the
// diameter. Extra columns name registered attributes and are written to
// every tree that carries them.
package treemap

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/population"
	"github.com/pthm-cable/canopy/simerr"
)

// Row is one tree of a map.
type Row struct {
	X       float64 `csv:"X"`
	Y       float64 `csv:"Y"`
	Species string  `csv:"Species"`
	Type    string  `csv:"Type"`
	Diam    float64 `csv:"Diam"`
	Height  float64 `csv:"Height"`
}

var coreColumns = map[string]bool{"X": true, "Y": true, "Species": true, "Type": true, "Diam": true, "Height": true}

// recordingReader keeps the raw records gocsv reads so extra columns can be
// matched back to their rows.
type recordingReader struct {
	r       *csv.Reader
	records [][]string
}

func (rr *recordingReader) Read() ([]string, error) {
	rec, err := rr.r.Read()
	if err == nil {
		rr.records = append(rr.records, rec)
	}
	return rec, err
}

func (rr *recordingReader) ReadAll() ([][]string, error) {
	recs, err := rr.r.ReadAll()
	rr.records = append(rr.records, recs...)
	return recs, err
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return cr
}

// Read creates the trees of a map through m and returns how many it created.
// The index is repaired once at the end.
func Read(r io.Reader, m *population.Manager) (int, error) {
	const op = "treemap.Read"
	rr := &recordingReader{r: newReader(r)}
	var rows []Row
	if err := gocsv.UnmarshalCSV(rr, &rows); err != nil {
		return 0, simerr.Wrap(simerr.BadData, op, err)
	}
	if len(rr.records) == 0 {
		return 0, simerr.New(simerr.DataMissing, op, "tree map has no header")
	}
	header := rr.records[0]
	for _, col := range []string{"X", "Y", "Species", "Type", "Diam"} {
		if !contains(header, col) {
			return 0, simerr.New(simerr.DataMissing, op, "tree map is missing column %q", col)
		}
	}

	reg := m.Registry()
	for i, row := range rows {
		line := i + 2
		sp, err := speciesCode(reg, row.Species)
		if err != nil {
			return i, lineErr(line, err)
		}
		stage, err := components.ParseStage(row.Type)
		if err != nil {
			return i, lineErr(line, err)
		}

		e, err := m.CreateTree(row.X, row.Y, sp, stage, row.Diam)
		if err != nil {
			return i, lineErr(line, err)
		}
		if row.Height > 0 && stage != components.Stump {
			t, err := m.Tree(e)
			if err != nil {
				return i, lineErr(line, err)
			}
			if err := m.UpdateFloat(e, t.Layout().Height, row.Height, false, false); err != nil {
				return i, lineErr(line, err)
			}
		}
		if i+1 < len(rr.records) {
			if err := setExtras(m, e, header, rr.records[i+1]); err != nil {
				return i, lineErr(line, err)
			}
		}
	}
	m.Flush()
	slog.Info("tree_map_loaded", "trees", len(rows))
	return len(rows), nil
}

func lineErr(line int, err error) error {
	return fmt.Errorf("tree map line %d: %w", line, err)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func speciesCode(reg *components.Registry, s string) (int, error) {
	if code, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		if !reg.ValidSpecies(code) {
			return 0, simerr.New(simerr.BadData, "treemap", "unrecognized species code %d", code)
		}
		return code, nil
	}
	return reg.SpeciesCode(s)
}

// setExtras writes the extra columns a tree carries. Columns the tree's
// species and type do not register, and empty cells, are skipped.
func setExtras(m *population.Manager, e ecs.Entity, header, record []string) error {
	t, err := m.Tree(e)
	if err != nil {
		return err
	}
	sp, stage := t.Species, t.Stage()

	for col, label := range header {
		if coreColumns[label] || col >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[col])
		if value == "" {
			continue
		}

		if code := m.FloatCode(label, sp, stage); code >= 0 {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return simerr.New(simerr.BadData, "treemap", "column %q: bad number %q", label, value)
			}
			if err := m.UpdateFloat(e, code, v, false, false); err != nil {
				return err
			}
		} else if code := m.IntCode(label, sp, stage); code >= 0 {
			v, err := strconv.Atoi(value)
			if err != nil {
				return simerr.New(simerr.BadData, "treemap", "column %q: bad integer %q", label, value)
			}
			if err := m.UpdateInt(e, code, v); err != nil {
				return err
			}
		} else if code := m.StringCode(label, sp, stage); code >= 0 {
			if err := m.UpdateText(e, code, value); err != nil {
				return err
			}
		} else if code := m.BoolCode(label, sp, stage); code >= 0 {
			v, err := strconv.ParseBool(value)
			if err != nil {
				return simerr.New(simerr.BadData, "treemap", "column %q: bad boolean %q", label, value)
			}
			if err := m.UpdateBool(e, code, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write writes the core columns of every tree, stumps included.
func Write(w io.Writer, m *population.Manager) error {
	reg := m.Registry()
	var rows []Row
	var err error
	m.Each(func(_ ecs.Entity, t *components.Tree) {
		if err != nil {
			return
		}
		var name string
		if name, err = reg.SpeciesName(t.Species); err != nil {
			return
		}
		rows = append(rows, Row{
			X:       t.X(),
			Y:       t.Y(),
			Species: name,
			Type:    t.Stage().String(),
			Diam:    t.Diameter(),
			Height:  t.Height(),
		})
	})
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(cw)); err != nil {
		return fmt.Errorf("writing tree map: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
