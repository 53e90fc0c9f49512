// Package metrics exposes the dashboard's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

var (
	// Simulator ticks
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unimix_sim_ticks_total",
		Help: "Total number of simulator ticks",
	})

	// Intents handed to the hardware link, by kind
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unimix_intents_total",
		Help: "Intents emitted by the simulator or the tune API",
	}, []string{"kind"})

	IntentsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unimix_intents_dropped_total",
		Help: "Intents dropped because the link queue was full",
	})

	KnockEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unimix_knock_events_total",
		Help: "Ticks with a non-zero knock reading",
	})

	OptimizerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unimix_optimizer_runs_total",
		Help: "Local optimizer runs, by whether they changed the tune",
	}, []string{"result"})

	// Advisor results: suggestion, empty, error, stale
	AdvisorResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unimix_advisor_results_total",
		Help: "Remote advisor outcomes",
	}, []string{"outcome"})

	RPM = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unimix_engine_rpm",
		Help: "Latest simulated engine speed",
	})

	BoostPSI = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unimix_boost_psi",
		Help: "Latest manifold pressure in PSI",
	})

	HistoryLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unimix_history_samples",
		Help: "Samples held in the telemetry history buffer",
	})

	LinkPhysical = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unimix_link_physical",
		Help: "1 when commands reach a physical adapter",
	})
)

// ObserveTick records one simulator tick.
func ObserveTick(t ecu.Telemetry, intents []ecu.Intent, historyLen int) {
	TicksTotal.Inc()
	RPM.Set(t.RPM)
	BoostPSI.Set(t.Boost)
	HistoryLength.Set(float64(historyLen))
	if t.Knock > 0 {
		KnockEventsTotal.Inc()
	}
	for _, in := range intents {
		IntentsTotal.WithLabelValues(string(in.Kind)).Inc()
	}
}
