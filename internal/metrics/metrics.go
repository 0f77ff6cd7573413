package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the pipeline's Prometheus collectors behind a private
// registry so tests can construct isolated instances.
type Registry struct {
	reg *prometheus.Registry

	MessagesTotal   prometheus.Counter
	FailuresTotal   *prometheus.CounterVec
	RowsAppended    *prometheus.CounterVec
	TablesSkipped   prometheus.Counter
	ProcessDuration prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	messages := prometheus.NewCounter(prometheus.CounterOpts{Name: "featuremart_messages_total"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "featuremart_failures_total"}, []string{"class"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "featuremart_rows_appended_total"}, []string{"table"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "featuremart_tables_skipped_total"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "featuremart_process_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(messages, failures, rows, skipped, duration)
	return &Registry{
		reg:             r,
		MessagesTotal:   messages,
		FailuresTotal:   failures,
		RowsAppended:    rows,
		TablesSkipped:   skipped,
		ProcessDuration: duration,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
