// Package metrics exposes Prometheus instrumentation for the ward census
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so wiring stays optional in tests.
type Metrics struct {
	SnapshotsApplied prometheus.Counter
	StoreErrors      prometheus.Counter
	Admissions       prometheus.Counter
	Discharges       prometheus.Counter
	NotesAppended    prometheus.Counter
	WebsocketClients prometheus.Gauge
}

// New registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		SnapshotsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wardsync_snapshots_applied_total",
			Help: "Total number of collection snapshots applied by the sync engine",
		}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wardsync_store_errors_total",
			Help: "Total number of remote store failures surfaced to callers",
		}),
		Admissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wardsync_admissions_total",
			Help: "Total number of patients admitted",
		}),
		Discharges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wardsync_discharges_total",
			Help: "Total number of patients discharged",
		}),
		NotesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wardsync_notes_appended_total",
			Help: "Total number of clinical notes appended to patient ledgers",
		}),
		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wardsync_websocket_clients",
			Help: "Number of currently connected websocket observers",
		}),
	}
}

func (m *Metrics) IncSnapshotsApplied() {
	if m != nil {
		m.SnapshotsApplied.Inc()
	}
}

func (m *Metrics) IncStoreErrors() {
	if m != nil {
		m.StoreErrors.Inc()
	}
}

func (m *Metrics) IncAdmissions() {
	if m != nil {
		m.Admissions.Inc()
	}
}

func (m *Metrics) IncDischarges() {
	if m != nil {
		m.Discharges.Inc()
	}
}

func (m *Metrics) IncNotesAppended() {
	if m != nil {
		m.NotesAppended.Inc()
	}
}

func (m *Metrics) SetWebsocketClients(n int) {
	if m != nil {
		m.WebsocketClients.Set(float64(n))
	}
}
