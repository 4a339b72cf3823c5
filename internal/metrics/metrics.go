// Package metrics exposes Prometheus metrics built from eventbus events and
// from the document store pool.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/docgraph/internal/docstore"
	eventbus "github.com/hanpama/docgraph/internal/eventbus"
	events "github.com/hanpama/docgraph/internal/events"
)

const namespace = "docgraph"

// Metrics owns a registry and the collectors fed by events.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	batchSize    prometheus.Histogram
	operations   *prometheus.CounterVec
	fieldErrors  prometheus.Counter
	storeOps     *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	storeWait    prometheus.Histogram
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_operations",
			Help:    "GraphQL operations executed per HTTP request.",
			Buckets: []float64{1, 2, 5, 10, 25, 50},
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "operations_total",
			Help: "GraphQL operations by type and outcome (ok, partial, failed).",
		}, []string{"type", "outcome"}),
		fieldErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "errors_total",
			Help: "Errors reported in GraphQL responses.",
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "operations_total",
			Help: "Document store operations by backend, operation and outcome.",
		}, []string{"backend", "operation", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "operation_duration_seconds",
			Help:    "Document store operation latency, pool wait included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		storeWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "pool_wait_seconds",
			Help:    "Time spent waiting for a pooled connection.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.batchSize,
		m.operations, m.fieldErrors,
		m.storeOps, m.storeLatency, m.storeWait,
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchPool exports gauges reading the pool statistics on every scrape.
func (m *Metrics) WatchPool(stats func() docstore.Stats) {
	gauge := func(name, help string, read func(docstore.Stats) int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: name, Help: help,
		}, func() float64 { return float64(read(stats())) })
	}
	m.reg.MustRegister(
		gauge("pool_in_use", "Pooled connections in use.", func(s docstore.Stats) int64 { return s.InUse }),
		gauge("pool_waiting", "Callers waiting for a pooled connection.", func(s docstore.Stats) int64 { return s.Waiting }),
		gauge("pool_max", "Pool ceiling.", func(s docstore.Stats) int64 { return s.MaxConns }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "pool_timeouts_total",
			Help: "Acquisitions that gave up waiting for a connection.",
		}, func() float64 { return float64(stats().Timeouts) }),
	)
}

// Subscribe feeds the collectors from the global bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	subs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			m.httpRequests.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
			m.httpDuration.WithLabelValues(e.Request.Method).Observe(e.Duration.Seconds())
			if e.Operations > 0 {
				m.batchSize.Observe(float64(e.Operations))
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
			outcome := "ok"
			switch {
			case e.Err != nil:
				outcome = "failed"
			case len(e.Errors) > 0:
				outcome = "partial"
			}
			opType := e.OperationType
			if opType == "" {
				opType = "invalid"
			}
			m.operations.WithLabelValues(opType, outcome).Inc()
			m.fieldErrors.Add(float64(len(e.Errors)))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.StoreFinish) {
			m.storeOps.WithLabelValues(e.Backend, e.Operation, storeOutcome(e.Err)).Inc()
			m.storeLatency.WithLabelValues(e.Backend, e.Operation).Observe(e.Duration.Seconds())
			m.storeWait.Observe(e.Wait.Seconds())
		}),
	}
	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}

// storeOutcome labels an operation result by the docstore error kinds.
func storeOutcome(err error) string {
	var conflict *docstore.ConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, docstore.ErrNotFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "connection_error"
	}
}
