package telemetry

import (
	"log/slog"
	"math"
	"slices"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/population"
)

// CensusRow holds the statistics of one species and stage at one timestep.
// Diameters are diam10 for seedlings and DBH otherwise.
type CensusRow struct {
	Timestep int    `csv:"timestep"`
	Species  string `csv:"species"`
	Stage    string `csv:"type"`
	Count    int    `csv:"count"`

	// Diameter distribution, cm
	DiamMean float64 `csv:"diam_mean"`
	DiamP10  float64 `csv:"diam_p10"`
	DiamP50  float64 `csv:"diam_p50"`
	DiamP90  float64 `csv:"diam_p90"`

	BasalArea  float64 `csv:"basal_area"`  // m2 per hectare, from DBH
	Density    float64 `csv:"density"`     // stems per hectare
	HeightMean float64 `csv:"height_mean"` // metres, 0 for stumps
}

type censusKey struct {
	species int
	stage   components.Stage
}

type sample struct {
	diams   []float64
	heights []float64
	basal   float64
}

// Census summarises the population by species and stage, ordered by
// species code then stage.
func Census(m *population.Manager) []CensusRow {
	groups := make(map[censusKey]*sample)
	m.Each(func(_ ecs.Entity, t *components.Tree) {
		k := censusKey{t.Species, t.Stage()}
		s := groups[k]
		if s == nil {
			s = &sample{}
			groups[k] = s
		}
		d := t.Diameter()
		s.diams = append(s.diams, d)
		if k.stage != components.Seedling {
			// DBH in cm to basal area in m2.
			s.basal += math.Pi * (d / 200) * (d / 200)
		}
		if k.stage != components.Stump {
			s.heights = append(s.heights, t.Height())
		}
	})

	keys := make([]censusKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b censusKey) int {
		if a.species != b.species {
			return a.species - b.species
		}
		return int(a.stage) - int(b.stage)
	})

	area := m.Plot().AreaHa()
	reg := m.Registry()
	rows := make([]CensusRow, 0, len(keys))
	for _, k := range keys {
		s := groups[k]
		name, _ := reg.SpeciesName(k.species)
		row := CensusRow{
			Timestep:  m.Timestep(),
			Species:   name,
			Stage:     k.stage.String(),
			Count:     len(s.diams),
			BasalArea: s.basal / area,
			Density:   float64(len(s.diams)) / area,
		}
		row.DiamMean, row.DiamP10, row.DiamP50, row.DiamP90 = ComputeDistribution(s.diams)
		if len(s.heights) > 0 {
			row.HeightMean = stat.Mean(s.heights, nil)
		}
		rows = append(rows, row)
	}
	return rows
}

// ComputeDistribution returns the mean and the 10th, 50th and 90th
// percentiles of values. All are 0 for an empty slice.
func ComputeDistribution(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mean = stat.Mean(sorted, nil)
	p10 = stat.Quantile(0.10, stat.LinInterp, sorted, nil)
	p50 = stat.Quantile(0.50, stat.LinInterp, sorted, nil)
	p90 = stat.Quantile(0.90, stat.LinInterp, sorted, nil)
	return mean, p10, p50, p90
}

// Totals sums a census over all groups.
type Totals struct {
	Trees     int
	Living    int
	BasalArea float64
}

// Total sums rows. Basal area counts living trees only.
func Total(rows []CensusRow) Totals {
	var t Totals
	for _, r := range rows {
		t.Trees += r.Count
		stage, err := components.ParseStage(r.Stage)
		if err != nil || !stage.Living() {
			continue
		}
		t.Living += r.Count
		t.BasalArea += r.BasalArea
	}
	return t
}

// LogValue implements slog.LogValuer for structured logging.
func (r CensusRow) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("timestep", r.Timestep),
		slog.String("species", r.Species),
		slog.String("type", r.Stage),
		slog.Int("count", r.Count),
		slog.Float64("diam_mean", r.DiamMean),
		slog.Float64("diam_p50", r.DiamP50),
		slog.Float64("basal_area", r.BasalArea),
		slog.Float64("height_mean", r.HeightMean),
	)
}

// LogCensus logs the totals of a census using slog.
func LogCensus(timestep int, rows []CensusRow) {
	t := Total(rows)
	slog.Info("census",
		"timestep", timestep,
		"trees", t.Trees,
		"living", t.Living,
		"basal_area", math.Round(t.BasalArea*100)/100,
		"groups", len(rows),
	)
}
