package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cosmos"

// breakerValues maps gobreaker state names to gauge values.
var breakerValues = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Exporter exposes a Collector as Prometheus metrics. Values are read from a
// snapshot at scrape time.
type Exporter struct {
	c *Collector

	opCount      *prometheus.Desc
	opErrors     *prometheus.Desc
	opSeconds    *prometheus.Desc
	opMaxSeconds *prometheus.Desc
	retries      *prometheus.Desc
	timeouts     *prometheus.Desc
	degradations *prometheus.Desc
	breaker      *prometheus.Desc
	anomalies    *prometheus.Desc
	uptime       *prometheus.Desc
}

// NewExporter creates an exporter for c.
func NewExporter(c *Collector) *Exporter {
	fq := func(name string) string { return prometheus.BuildFQName(namespace, "", name) }
	return &Exporter{
		c:            c,
		opCount:      prometheus.NewDesc(fq("operations_total"), "Store and lookup operations performed.", []string{"op"}, nil),
		opErrors:     prometheus.NewDesc(fq("operation_errors_total"), "Operations that returned an error.", []string{"op"}, nil),
		opSeconds:    prometheus.NewDesc(fq("operation_seconds_total"), "Total time spent per operation.", []string{"op"}, nil),
		opMaxSeconds: prometheus.NewDesc(fq("operation_max_seconds"), "Slowest observed operation.", []string{"op"}, nil),
		retries:      prometheus.NewDesc(fq("store_retries_total"), "Store calls retried after a timeout.", []string{"store"}, nil),
		timeouts:     prometheus.NewDesc(fq("store_timeouts_total"), "Store call attempts that timed out.", []string{"store"}, nil),
		degradations: prometheus.NewDesc(fq("lookup_degradations_total"), "Lookup stages served degraded.", []string{"stage"}, nil),
		breaker:      prometheus.NewDesc(fq("breaker_state"), "Circuit breaker state (0 closed, 1 half-open, 2 open).", []string{"store"}, nil),
		anomalies:    prometheus.NewDesc(fq("scoring_anomalies_total"), "Non-finite scores replaced by the neutral score.", nil, nil),
		uptime:       prometheus.NewDesc(fq("uptime_seconds"), "Seconds since the collector started.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.opCount
	ch <- e.opErrors
	ch <- e.opSeconds
	ch <- e.opMaxSeconds
	ch <- e.retries
	ch <- e.timeouts
	ch <- e.degradations
	ch <- e.breaker
	ch <- e.anomalies
	ch <- e.uptime
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.c.Snapshot()

	for _, op := range sortedKeys(snap.Operations) {
		s := snap.Operations[op]
		ch <- prometheus.MustNewConstMetric(e.opCount, prometheus.CounterValue, float64(s.Count), op)
		ch <- prometheus.MustNewConstMetric(e.opErrors, prometheus.CounterValue, float64(s.Errors), op)
		ch <- prometheus.MustNewConstMetric(e.opSeconds, prometheus.CounterValue, float64(s.TotalTimeMs)/1000, op)
		ch <- prometheus.MustNewConstMetric(e.opMaxSeconds, prometheus.GaugeValue, float64(s.MaxTimeMs)/1000, op)
	}
	for _, store := range sortedKeys(snap.Retries) {
		ch <- prometheus.MustNewConstMetric(e.retries, prometheus.CounterValue, float64(snap.Retries[store]), store)
	}
	for _, store := range sortedKeys(snap.Timeouts) {
		ch <- prometheus.MustNewConstMetric(e.timeouts, prometheus.CounterValue, float64(snap.Timeouts[store]), store)
	}
	for _, stage := range sortedKeys(snap.Degradations) {
		ch <- prometheus.MustNewConstMetric(e.degradations, prometheus.CounterValue, float64(snap.Degradations[stage]), stage)
	}
	for _, store := range sortedKeys(snap.BreakerStates) {
		ch <- prometheus.MustNewConstMetric(e.breaker, prometheus.GaugeValue, breakerValues[snap.BreakerStates[store]], store)
	}
	ch <- prometheus.MustNewConstMetric(e.anomalies, prometheus.CounterValue, float64(snap.ScoringAnomalies))
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, snap.UptimeSeconds)
}

// NewRegistry returns a registry holding the exporter and the Go runtime
// collectors. Each call builds a fresh registry so tests never collide.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewExporter(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
