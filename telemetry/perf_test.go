package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseGrowth)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseMortality)
		time.Sleep(200 * time.Microsecond)
		pc.EndStep()
	}

	stats := pc.Stats()

	if stats.AvgStepDuration <= 0 {
		t.Error("expected positive average step duration")
	}
	if _, ok := stats.PhaseAvg[PhaseGrowth]; !ok {
		t.Error("expected growth phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseMortality]; !ok {
		t.Error("expected mortality phase to be tracked")
	}
	if stats.MinStepDuration > stats.MaxStepDuration {
		t.Errorf("min %v exceeds max %v", stats.MinStepDuration, stats.MaxStepDuration)
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseCleanup)
		time.Sleep(10 * time.Microsecond)
		pc.EndStep()
	}

	stats := pc.Stats()
	if stats.AvgStepDuration <= 0 {
		t.Error("expected positive average step duration after window filled")
	}
	if stats.StepsPerSecond <= 0 {
		t.Error("expected positive steps per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseCensus)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhaseHarvest)
		time.Sleep(1 * time.Millisecond)
		pc.EndStep()
	}

	stats := pc.Stats()
	fast := stats.PhasePct[PhaseCensus]
	slow := stats.PhasePct[PhaseHarvest]
	if slow <= fast {
		t.Errorf("expected harvest (%v%%) > census (%v%%)", slow, fast)
	}

	row := stats.ToCSV(7)
	if row.Timestep != 7 || row.HarvestPct != slow {
		t.Errorf("unexpected CSV row %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()
	if stats.AvgStepDuration != 0 {
		t.Error("expected zero avg step duration for empty collector")
	}
	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}
	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}
