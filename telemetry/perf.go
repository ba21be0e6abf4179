package telemetry

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/canopy/behaviors"
)

// Phase names for one timestep of a run.
const (
	PhaseGrowth    = behaviors.GrowthName
	PhaseMortality = behaviors.MortalityName
	PhaseHarvest   = behaviors.HarvestName
	PhaseCensus    = "census"
	PhaseCleanup   = "cleanup"
)

var phases = []string{PhaseGrowth, PhaseMortality, PhaseHarvest, PhaseCensus, PhaseCleanup}

// PerfSample holds timing data for a single timestep.
type PerfSample struct {
	StepDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks timestep performance over a rolling window.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	stepStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a collector averaging over windowSize timesteps.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 10
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartStep begins timing a new timestep.
func (p *PerfCollector) StartStep() {
	p.stepStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a phase, ending the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndStep finishes timing the current timestep and records the sample.
func (p *PerfCollector) EndStep() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		StepDuration: now.Sub(p.stepStart),
		Phases:       p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgStepDuration time.Duration
	MinStepDuration time.Duration
	MaxStepDuration time.Duration

	// Average phase durations and their share of a step, in percent
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	StepsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var total, minStep, maxStep time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.StepDuration
		if i == 0 || s.StepDuration < minStep {
			minStep = s.StepDuration
		}
		if s.StepDuration > maxStep {
			maxStep = s.StepDuration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avg := total / time.Duration(p.sampleCount)
	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avg > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avg) * 100
		}
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}

	return PerfStats{
		AvgStepDuration: avg,
		MinStepDuration: minStep,
		MaxStepDuration: maxStep,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		StepsPerSecond:  perSec,
	}
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_step_us", s.AvgStepDuration.Microseconds(),
		"min_step_us", s.MinStepDuration.Microseconds(),
		"max_step_us", s.MaxStepDuration.Microseconds(),
		"steps_per_sec", s.StepsPerSecond,
	}
	for _, phase := range phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", int(pct*10)/10.0)
		}
	}
	slog.Info("perf", attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	Timestep     int     `csv:"timestep"`
	AvgStepUS    int64   `csv:"avg_step_us"`
	MinStepUS    int64   `csv:"min_step_us"`
	MaxStepUS    int64   `csv:"max_step_us"`
	StepsPerSec  float64 `csv:"steps_per_sec"`
	GrowthPct    float64 `csv:"growth_pct"`
	MortalityPct float64 `csv:"mortality_pct"`
	HarvestPct   float64 `csv:"harvest_pct"`
	CensusPct    float64 `csv:"census_pct"`
	CleanupPct   float64 `csv:"cleanup_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(timestep int) PerfStatsCSV {
	return PerfStatsCSV{
		Timestep:     timestep,
		AvgStepUS:    s.AvgStepDuration.Microseconds(),
		MinStepUS:    s.MinStepDuration.Microseconds(),
		MaxStepUS:    s.MaxStepDuration.Microseconds(),
		StepsPerSec:  s.StepsPerSecond,
		GrowthPct:    s.PhasePct[PhaseGrowth],
		MortalityPct: s.PhasePct[PhaseMortality],
		HarvestPct:   s.PhasePct[PhaseHarvest],
		CensusPct:    s.PhasePct[PhaseCensus],
		CleanupPct:   s.PhasePct[PhaseCleanup],
	}
}
