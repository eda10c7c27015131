package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the orderline counters on a dedicated prometheus
// registry so tests can create isolated instances.
type Registry struct {
	reg *prometheus.Registry

	ImportedTotal      prometheus.Counter
	ImportSkippedTotal prometheus.Counter
	SyncsTotal         prometheus.Counter
	SavesTotal         prometheus.Counter
	SaveFailuresTotal  prometheus.Counter
	BusyRejectedTotal  prometheus.Counter
	LastSyncUnix       prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	imported := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_import_added_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_import_skipped_total"})
	syncs := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_syncs_total"})
	saves := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_saves_total"})
	saveFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_save_failures_total"})
	busy := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderline_busy_rejected_total"})
	lastSync := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orderline_last_sync_timestamp_seconds"})

	r.MustRegister(imported, skipped, syncs, saves, saveFailures, busy, lastSync)
	return &Registry{
		reg:                r,
		ImportedTotal:      imported,
		ImportSkippedTotal: skipped,
		SyncsTotal:         syncs,
		SavesTotal:         saves,
		SaveFailuresTotal:  saveFailures,
		BusyRejectedTotal:  busy,
		LastSyncUnix:       lastSync,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
