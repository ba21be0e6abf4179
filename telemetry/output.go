package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/canopy/config"
)

// OutputManager writes run output: census.csv, perf.csv and the effective
// config.yaml.
type OutputManager struct {
	dir        string
	censusFile *os.File
	perfFile   *os.File

	censusHeaderWritten bool
	perfHeaderWritten   bool
}

// NewOutputManager creates the output directory and opens the CSV files.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "census.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating census.csv: %w", err)
	}
	om.censusFile = f

	f, err = os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		om.censusFile.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteCensus appends census rows to census.csv.
func (om *OutputManager) WriteCensus(rows []CensusRow) error {
	if om == nil || len(rows) == 0 {
		return nil
	}

	if !om.censusHeaderWritten {
		if err := gocsv.Marshal(rows, om.censusFile); err != nil {
			return fmt.Errorf("writing census: %w", err)
		}
		om.censusHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(rows, om.censusFile); err != nil {
			return fmt.Errorf("writing census: %w", err)
		}
	}

	return nil
}

// WritePerf appends a performance record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, timestep int) error {
	if om == nil {
		return nil
	}

	records := []PerfStatsCSV{stats.ToCSV(timestep)}

	if !om.perfHeaderWritten {
		if err := gocsv.Marshal(records, om.perfFile); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
		om.perfHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.perfFile); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
	}

	return nil
}

// Path returns the path of name inside the output directory, or "" when
// output is disabled.
func (om *OutputManager) Path(name string) string {
	if om == nil {
		return ""
	}
	return filepath.Join(om.dir, name)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error

	if om.censusFile != nil {
		if err := om.censusFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if om.perfFile != nil {
		if err := om.perfFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
