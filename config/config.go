// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/canopy/simerr"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Plot             PlotConfig      `yaml:"plot"`
	Species          []SpeciesConfig `yaml:"species"`
	InitialDensities []DensityConfig `yaml:"initial_densities"`
	Behaviors        BehaviorsConfig `yaml:"behaviors"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// PlotConfig holds plot dimensions and index resolution.
type PlotConfig struct {
	XLength        float64 `yaml:"x_length"`         // Plot length in metres, east-west
	YLength        float64 `yaml:"y_length"`         // Plot length in metres, north-south
	GridCellSize   float64 `yaml:"grid_cell_size"`   // Index cell edge in metres
	HeightDivWidth float64 `yaml:"height_div_width"` // Height class width in metres
	TimestepYears  float64 `yaml:"timestep_years"`   // Years per timestep
	Seed           uint64  `yaml:"seed"`             // RNG seed (0 = time-based)
}

// FormulaConfig selects one allometric formula and its parameters.
// The meaning of A, B and C depends on Kind.
type FormulaConfig struct {
	Kind string  `yaml:"kind"` // standard, linear, reverse_linear, power, chapman_richards
	A    float64 `yaml:"a"`
	B    float64 `yaml:"b"`
	C    float64 `yaml:"c"`
	I    float64 `yaml:"i"`   // intercept (chapman_richards crown radius)
	Max  float64 `yaml:"max"` // cap on the result (crown radius); 0 = none
}

// ConversionConfig is a linear diam10 -> DBH conversion.
type ConversionConfig struct {
	Slope     float64 `yaml:"slope"`
	Intercept float64 `yaml:"intercept"`
}

// RangeConfig is a closed numeric range.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// SpeciesConfig holds the per-species parameters consumed by the allometry
// table and the population manager.
type SpeciesConfig struct {
	Name              string           `yaml:"name"`
	MaxHeight         float64          `yaml:"max_height"`          // metres
	MaxSeedlingHeight float64          `yaml:"max_seedling_height"` // metres
	MinAdultDBH       float64          `yaml:"min_adult_dbh"`       // cm
	Diam10ToDBH       ConversionConfig `yaml:"diam10_to_dbh"`
	SeedlingHeight    FormulaConfig    `yaml:"seedling_height"`
	SaplingHeight     FormulaConfig    `yaml:"sapling_height"`
	AdultHeight       FormulaConfig    `yaml:"adult_height"`
	CrownRadius       FormulaConfig    `yaml:"crown_radius"`
	CrownDepth        FormulaConfig    `yaml:"crown_depth"`
	MakeSnags         bool             `yaml:"make_snags"`
	MakeStumps        bool             `yaml:"make_stumps"`
	NewSeedlingDiam10 RangeConfig      `yaml:"new_seedling_diam10"` // default diam10 when created with 0
}

// SizeClassConfig is one DBH class of an initial density block.
type SizeClassConfig struct {
	MinDBH  float64 `yaml:"min_dbh"`
	MaxDBH  float64 `yaml:"max_dbh"`
	Density float64 `yaml:"density"` // stems per hectare
}

// DensityConfig holds the initial stems per hectare for one species.
type DensityConfig struct {
	Species   string            `yaml:"species"`
	Seedlings float64           `yaml:"seedlings"` // stems per hectare, default diameter
	Classes   []SizeClassConfig `yaml:"classes"`
}

// BehaviorsConfig holds parameters of the bundled behaviors.
type BehaviorsConfig struct {
	Growth    GrowthConfig    `yaml:"growth"`
	Mortality MortalityConfig `yaml:"mortality"`
	Harvest   HarvestConfig   `yaml:"harvest"`
}

// GrowthConfig holds constant-increment growth parameters.
type GrowthConfig struct {
	Diam10Increment float64 `yaml:"diam10_increment"` // cm per year, seedlings
	DBHIncrement    float64 `yaml:"dbh_increment"`    // cm per year, saplings and adults
}

// MortalityConfig holds background mortality parameters.
type MortalityConfig struct {
	AnnualRate float64 `yaml:"annual_rate"` // probability of death per year
}

// HarvestConfig holds diameter-limit harvest parameters.
type HarvestConfig struct {
	Enabled  bool    `yaml:"enabled"`
	MinDBH   float64 `yaml:"min_dbh"`  // cut adults at or above this DBH
	Interval int     `yaml:"interval"` // timesteps between harvests
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	CensusInterval int `yaml:"census_interval"` // timesteps between census rows
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	SpeciesIndex map[string]int // name -> species code
	AreaHa       float64        // plot area in hectares
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Parse builds a configuration from YAML bytes alone, without the embedded
// defaults. Used by tests and tools that carry a complete document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate checks that required sections are present and values are usable.
func (c *Config) Validate() error {
	const op = "config.Validate"
	p := c.Plot
	if p.XLength == 0 || p.YLength == 0 {
		return simerr.New(simerr.DataMissing, op, "plot x_length and y_length are required")
	}
	if p.XLength < 0 || p.YLength < 0 {
		return simerr.New(simerr.BadData, op, "plot lengths must be positive, got %g x %g", p.XLength, p.YLength)
	}
	if p.GridCellSize <= 0 {
		return simerr.New(simerr.BadData, op, "grid_cell_size must be positive, got %g", p.GridCellSize)
	}
	if p.HeightDivWidth <= 0 {
		return simerr.New(simerr.BadData, op, "height_div_width must be positive, got %g", p.HeightDivWidth)
	}
	if p.TimestepYears <= 0 {
		return simerr.New(simerr.BadData, op, "timestep_years must be positive, got %g", p.TimestepYears)
	}
	if len(c.Species) == 0 {
		return simerr.New(simerr.DataMissing, op, "at least one species is required")
	}

	seen := make(map[string]bool, len(c.Species))
	for i, sp := range c.Species {
		if sp.Name == "" {
			return simerr.New(simerr.DataMissing, op, "species %d has no name", i)
		}
		if seen[sp.Name] {
			return simerr.New(simerr.BadData, op, "duplicate species %q", sp.Name)
		}
		seen[sp.Name] = true
		if sp.MaxHeight <= 0 {
			return simerr.New(simerr.BadData, op, "species %q: max_height must be positive, got %g", sp.Name, sp.MaxHeight)
		}
		if sp.MaxSeedlingHeight <= 0 || sp.MaxSeedlingHeight >= sp.MaxHeight {
			return simerr.New(simerr.BadData, op, "species %q: max_seedling_height %g must be in (0, max_height)", sp.Name, sp.MaxSeedlingHeight)
		}
		if sp.MinAdultDBH <= 0 {
			return simerr.New(simerr.BadData, op, "species %q: min_adult_dbh must be positive, got %g", sp.Name, sp.MinAdultDBH)
		}
		if sp.Diam10ToDBH.Slope <= 0 {
			return simerr.New(simerr.BadData, op, "species %q: diam10_to_dbh slope must be positive, got %g", sp.Name, sp.Diam10ToDBH.Slope)
		}
		if sp.NewSeedlingDiam10.Min < 0 || sp.NewSeedlingDiam10.Max < sp.NewSeedlingDiam10.Min {
			return simerr.New(simerr.BadData, op, "species %q: bad new_seedling_diam10 range [%g, %g]", sp.Name, sp.NewSeedlingDiam10.Min, sp.NewSeedlingDiam10.Max)
		}
	}

	for _, d := range c.InitialDensities {
		if !seen[d.Species] {
			return simerr.New(simerr.BadData, op, "initial density for unknown species %q", d.Species)
		}
		if d.Seedlings < 0 {
			return simerr.New(simerr.BadData, op, "species %q: negative seedling density %g", d.Species, d.Seedlings)
		}
		for _, cl := range d.Classes {
			if cl.Density < 0 || cl.MinDBH <= 0 || cl.MaxDBH < cl.MinDBH {
				return simerr.New(simerr.BadData, op, "species %q: bad size class [%g, %g] density %g", d.Species, cl.MinDBH, cl.MaxDBH, cl.Density)
			}
		}
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.AreaHa = c.Plot.XLength * c.Plot.YLength / 10000

	// New seedlings default to a 0.1 cm diameter when no range is given
	for i := range c.Species {
		sp := &c.Species[i]
		if sp.NewSeedlingDiam10.Max == 0 {
			sp.NewSeedlingDiam10 = RangeConfig{Min: 0.1, Max: 0.1}
		}
	}

	if c.Telemetry.CensusInterval <= 0 {
		c.Telemetry.CensusInterval = 1
	}

	c.Derived.SpeciesIndex = make(map[string]int, len(c.Species))
	for i, sp := range c.Species {
		c.Derived.SpeciesIndex[sp.Name] = i
	}
}

// SpeciesNames returns species names in code order.
func (c *Config) SpeciesNames() []string {
	names := make([]string, len(c.Species))
	for i, sp := range c.Species {
		names[i] = sp.Name
	}
	return names
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
