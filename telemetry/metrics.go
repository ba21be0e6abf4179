package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm-cable/canopy/components"
	"github.com/pthm-cable/canopy/population"
)

var _ population.Recorder = (*Metrics)(nil)

// Metrics exports population events and census gauges. It implements
// population.Recorder.
type Metrics struct {
	names []string

	created     *prometheus.CounterVec
	killed      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	trees       *prometheus.GaugeVec
	basalArea   *prometheus.GaugeVec
	timestep    prometheus.Gauge
}

// NewMetrics creates a new set of metrics registered to reg. species maps
// codes to label values.
func NewMetrics(reg prometheus.Registerer, species []string) *Metrics {
	m := &Metrics{names: species}

	m.created = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canopy",
		Name:      "trees_created_total",
		Help:      "Total number of trees created, by species and type",
	}, []string{"species", "type"})

	m.killed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canopy",
		Name:      "trees_killed_total",
		Help:      "Total number of trees killed, by species, type and reason",
	}, []string{"species", "type", "reason"})

	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canopy",
		Name:      "stage_transitions_total",
		Help:      "Total number of life-stage transitions",
	}, []string{"species", "from", "to"})

	m.trees = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canopy",
		Name:      "trees",
		Help:      "Trees present at the last census",
	}, []string{"species", "type"})

	m.basalArea = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canopy",
		Name:      "basal_area_m2_per_ha",
		Help:      "Basal area at the last census",
	}, []string{"species", "type"})

	m.timestep = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "canopy",
		Name:      "timestep",
		Help:      "Timestep of the last census",
	})

	reg.MustRegister(m.created, m.killed, m.transitions, m.trees, m.basalArea, m.timestep)
	return m
}

func (m *Metrics) species(code int) string {
	if code >= 0 && code < len(m.names) {
		return m.names[code]
	}
	return "unknown"
}

// TreeCreated implements population.Recorder.
func (m *Metrics) TreeCreated(species int, stage components.Stage) {
	m.created.WithLabelValues(m.species(species), stage.String()).Inc()
}

// TreeKilled implements population.Recorder.
func (m *Metrics) TreeKilled(species int, stage components.Stage, reason components.DeathReason) {
	m.killed.WithLabelValues(m.species(species), stage.String(), reason.String()).Inc()
}

// Transition implements population.Recorder.
func (m *Metrics) Transition(species int, from, to components.Stage) {
	m.transitions.WithLabelValues(m.species(species), from.String(), to.String()).Inc()
}

// ObserveCensus replaces the census gauges with rows.
func (m *Metrics) ObserveCensus(timestep int, rows []CensusRow) {
	m.trees.Reset()
	m.basalArea.Reset()
	for _, r := range rows {
		m.trees.WithLabelValues(r.Species, r.Stage).Set(float64(r.Count))
		m.basalArea.WithLabelValues(r.Species, r.Stage).Set(r.BasalArea)
	}
	m.timestep.Set(float64(timestep))
}
