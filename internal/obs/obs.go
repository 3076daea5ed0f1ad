// Package obs exposes the daemon's own operational counters.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the pipeline touches. One instance
// per process, registered on its own registry so tests can construct
// throwaway copies without duplicate-registration panics.
type Metrics struct {
	Registry *prometheus.Registry

	SamplesCollected *prometheus.CounterVec
	BatchesWritten   *prometheus.CounterVec
	WriteFailures    *prometheus.CounterVec
	ChangeSignals    *prometheus.CounterVec
	CatchupQueries   *prometheus.CounterVec
	ActiveSessions   *prometheus.GaugeVec
	CachedEntities   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SamplesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homelabd_samples_collected_total",
			Help: "Samples produced by collectors, before write throttling.",
		}, []string{"source"}),
		BatchesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homelabd_batches_written_total",
			Help: "Non-empty batches committed to the store.",
		}, []string{"source"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homelabd_write_failures_total",
			Help: "Batch inserts that failed and were handed to retry.",
		}, []string{"source"}),
		ChangeSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homelabd_change_signals_total",
			Help: "Change signals fanned out by the notification mux.",
		}, []string{"source"}),
		CatchupQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homelabd_catchup_queries_total",
			Help: "Sequence-cursor catch-up reads issued by sessions.",
		}, []string{"source"}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homelabd_active_sessions",
			Help: "Currently connected streaming subscribers.",
		}, []string{"source"}),
		CachedEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homelabd_cached_entities",
			Help: "Entities held in the stats cache, stale included.",
		}, []string{"source"}),
	}
	m.Registry.MustRegister(
		m.SamplesCollected, m.BatchesWritten, m.WriteFailures,
		m.ChangeSignals, m.CatchupQueries, m.ActiveSessions, m.CachedEntities,
	)
	return m
}
