// Package sim wires a population to its behaviors, telemetry and ghost
// archive and advances it one timestep at a time.
package sim

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm-cable/canopy/archive"
	"github.com/pthm-cable/canopy/behaviors"
	"github.com/pthm-cable/canopy/config"
	"github.com/pthm-cable/canopy/population"
	"github.com/pthm-cable/canopy/telemetry"
	"github.com/pthm-cable/canopy/treemap"
)

// FinalTreeMap is the tree map written to the output directory on Unload.
const FinalTreeMap = "trees_final.txt"

// Options configures a run.
type Options struct {
	Seed      uint64 // overrides plot.seed when non-zero
	TreeMap   string // initial tree map; empty = initial densities
	GhostDB   string // SQLite ghost archive; empty = in memory
	OutputDir string // census, perf, config and final tree map; empty = none
	LogStats  bool

	// Registerer receives the population metrics; nil disables them.
	Registerer prometheus.Registerer
}

// Sim holds the complete run state.
type Sim struct {
	cfg      *config.Config
	pop      *population.Manager
	ghosts   archive.Archive
	output   *telemetry.OutputManager
	perf     *telemetry.PerfCollector
	metrics  *telemetry.Metrics
	logStats bool

	lastCensus []telemetry.CensusRow
}

// New builds a run from cfg and creates the initial trees.
func New(cfg *config.Config, opts Options) (*Sim, error) {
	if opts.Seed != 0 {
		cfg.Plot.Seed = opts.Seed
	}

	var ghosts archive.Archive
	if opts.GhostDB != "" {
		db, err := archive.NewSQLite(opts.GhostDB)
		if err != nil {
			return nil, err
		}
		ghosts = db
	} else {
		ghosts = archive.NewMemory()
	}

	s, err := build(cfg, ghosts, opts)
	if err != nil {
		ghosts.Close()
		return nil, err
	}
	return s, nil
}

func build(cfg *config.Config, ghosts archive.Archive, opts Options) (*Sim, error) {
	pop, err := population.New(cfg, ghosts)
	if err != nil {
		return nil, err
	}

	s := &Sim{
		cfg:      cfg,
		pop:      pop,
		ghosts:   ghosts,
		perf:     telemetry.NewPerfCollector(10),
		logStats: opts.LogStats,
	}
	if opts.Registerer != nil {
		s.metrics = telemetry.NewMetrics(opts.Registerer, cfg.SpeciesNames())
		pop.SetRecorder(s.metrics)
	}

	if err := s.populate(opts.TreeMap); err != nil {
		return nil, err
	}

	if s.output, err = telemetry.NewOutputManager(opts.OutputDir); err != nil {
		return nil, err
	}
	if err := s.output.WriteConfig(cfg); err != nil {
		s.output.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sim) populate(path string) error {
	if path == "" {
		return s.pop.Populate(s.cfg.InitialDensities)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening tree map: %w", err)
	}
	defer f.Close()
	if _, err := treemap.Read(f, s.pop); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// Population returns the population manager.
func (s *Sim) Population() *population.Manager {
	return s.pop
}

// Timestep returns the number of completed timesteps.
func (s *Sim) Timestep() int {
	return s.pop.Timestep()
}

// LastCensus returns the rows of the most recent census.
func (s *Sim) LastCensus() []telemetry.CensusRow {
	return s.lastCensus
}

// Step runs one timestep: growth, mortality, harvest, census on census
// timesteps, then end-of-timestep cleanup.
func (s *Sim) Step() error {
	s.perf.StartStep()

	if _, err := behaviors.Step(s.pop, s.perf.StartPhase); err != nil {
		return err
	}

	s.perf.StartPhase(telemetry.PhaseCensus)
	if err := s.flushTelemetry(); err != nil {
		return err
	}

	s.perf.StartPhase(telemetry.PhaseCleanup)
	s.pop.EndOfTimestepCleanup()

	s.perf.EndStep()
	return nil
}

// Run advances n timesteps.
func (s *Sim) Run(n int) error {
	for range n {
		if err := s.Step(); err != nil {
			return err
		}
	}
	slog.Info("run_complete", "timesteps", s.Timestep(), "trees", s.pop.Count(), "ghosts", s.ghosts.Len())
	return nil
}

// Unload writes the final tree map and releases the archive and output
// files. It returns the first error.
func (s *Sim) Unload() error {
	var firstErr error
	if path := s.output.Path(FinalTreeMap); path != "" {
		if err := writeTreeMap(path, s.pop); err != nil {
			firstErr = err
		}
	}
	if err := s.output.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.ghosts.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func writeTreeMap(path string, pop *population.Manager) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating tree map: %w", err)
	}
	if err := treemap.Write(f, pop); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
