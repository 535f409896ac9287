// Package metrics defines the Prometheus counters exported by the worker and
// the import command.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coverhub"

// Message outcomes.
const (
	OutcomeAck     = "ack"
	OutcomeSkip    = "skip"
	OutcomeReject  = "reject"
	OutcomeRequeue = "requeue"
	OutcomeRetry   = "retry"
)

// No-hit outcomes.
const (
	NoHitKatalog = "katalog"
	NoHitRematch = "rematch"
	NoHitGuess   = "guess"
	NoHitFailed  = "no_hit_failed"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	vendorRecords  *prometheus.CounterVec
	vendorInserted *prometheus.CounterVec
	vendorUpdated  *prometheus.CounterVec
	vendorDeleted  *prometheus.CounterVec

	messages *prometheus.CounterVec
	zeroHits prometheus.Counter
	noHit    *prometheus.CounterVec
	datawell *prometheus.CounterVec
	uploads  *prometheus.CounterVec
	indexed  *prometheus.CounterVec
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		vendorRecords:  counterVec("vendor_records_total", "Records read from vendor feeds.", "vendor"),
		vendorInserted: counterVec("vendor_inserted_total", "Sources created by vendor imports.", "vendor"),
		vendorUpdated:  counterVec("vendor_updated_total", "Sources updated by vendor imports.", "vendor"),
		vendorDeleted:  counterVec("vendor_deleted_total", "Sources withdrawn by vendor imports.", "vendor"),

		messages: counterVec("messages_total", "Pipeline messages by queue and outcome.", "queue", "outcome"),
		zeroHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_zero_hits_total",
			Help:      "Datawell searches that returned no material.",
		}),
		noHit:    counterVec("no_hit_total", "No-hit recovery attempts by outcome.", "outcome"),
		datawell: counterVec("datawell_requests_total", "Datawell lookups by result.", "result"),
		uploads:  counterVec("coverstore_uploads_total", "Cover store uploads by result.", "result"),
		indexed:  counterVec("search_rows_total", "Search row changes by action.", "action"),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.vendorRecords, m.vendorInserted, m.vendorUpdated, m.vendorDeleted,
		m.messages, m.zeroHits, m.noHit, m.datawell, m.uploads, m.indexed,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// VendorImport adds the counts of one import batch.
func (m *Metrics) VendorImport(vendorID int, records, inserted, updated int) {
	if m == nil {
		return
	}
	v := strconv.Itoa(vendorID)
	m.vendorRecords.WithLabelValues(v).Add(float64(records))
	m.vendorInserted.WithLabelValues(v).Add(float64(inserted))
	m.vendorUpdated.WithLabelValues(v).Add(float64(updated))
}

// VendorDeleted counts withdrawn identifiers.
func (m *Metrics) VendorDeleted(vendorID int, deleted int) {
	if m == nil {
		return
	}
	m.vendorDeleted.WithLabelValues(strconv.Itoa(vendorID)).Add(float64(deleted))
}

// Message counts a handled message.
func (m *Metrics) Message(queue, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(queue, outcome).Inc()
}

// ZeroHit counts a datawell search without results.
func (m *Metrics) ZeroHit() {
	if m == nil {
		return
	}
	m.zeroHits.Inc()
}

// NoHit counts a no-hit recovery outcome.
func (m *Metrics) NoHit(outcome string) {
	if m == nil {
		return
	}
	m.noHit.WithLabelValues(outcome).Inc()
}

// Datawell counts a datawell lookup result: hit, zero_hit, cache_hit or error.
func (m *Metrics) Datawell(result string) {
	if m == nil {
		return
	}
	m.datawell.WithLabelValues(result).Inc()
}

// Upload counts a cover store upload result.
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// SearchRow counts a search row change: created, overridden, kept, conflict.
func (m *Metrics) SearchRow(action string) {
	if m == nil {
		return
	}
	m.indexed.WithLabelValues(action).Inc()
}

// MessageCount returns the current value of a message counter, for tests
// and status output.
func (m *Metrics) MessageCount(queue, outcome string) float64 {
	return counterValue(m.messages.WithLabelValues(queue, outcome))
}

// NoHitCount returns the current value of a no-hit counter.
func (m *Metrics) NoHitCount(outcome string) float64 {
	return counterValue(m.noHit.WithLabelValues(outcome))
}

// SearchRowCount returns the current value of a search row counter.
func (m *Metrics) SearchRowCount(action string) float64 {
	return counterValue(m.indexed.WithLabelValues(action))
}
