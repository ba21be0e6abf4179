package sim

import (
	"github.com/pthm-cable/canopy/telemetry"
)

// flushTelemetry takes a census on census timesteps and hands it to the
// metrics, the log and the output files.
func (s *Sim) flushTelemetry() error {
	interval := s.cfg.Telemetry.CensusInterval
	if interval <= 0 {
		interval = 1
	}
	ts := s.pop.Timestep()
	if ts%interval != 0 {
		return nil
	}

	rows := telemetry.Census(s.pop)
	s.lastCensus = rows

	if s.metrics != nil {
		s.metrics.ObserveCensus(ts, rows)
	}

	if s.logStats {
		telemetry.LogCensus(ts, rows)
		s.perf.Stats().LogStats()
	}

	if err := s.output.WriteCensus(rows); err != nil {
		return err
	}
	return s.output.WritePerf(s.perf.Stats(), ts)
}
