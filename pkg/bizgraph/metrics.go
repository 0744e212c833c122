package bizgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/orneryd/bizgraph/pkg/builder"
	"github.com/orneryd/bizgraph/pkg/graph"
)

const metricsNamespace = "bizgraph"

// metrics are registered on a per-service registry so several services can
// coexist in one process (tests do this).
type metrics struct {
	registry *prometheus.Registry

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	truncations   *prometheus.CounterVec
	nodes         *prometheus.GaugeVec
	edges         *prometheus.GaugeVec
	generation    prometheus.Gauge
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	snapshots     *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "builds_total",
			Help:      "Graph builds by outcome.",
		}, []string{"outcome"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of successful graph builds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "truncations_total",
			Help:      "Input batches truncated by a configured cap.",
		}, []string{"batch"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the published graph by kind.",
		}, []string{"kind"}),
		edges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "graph_edges",
			Help:      "Edges in the published graph by kind.",
		}, []string{"kind"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "graph_generation",
			Help:      "Generation of the published graph; bumps on every publish.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queries_total",
			Help:      "Queries by operation and error code.",
		}, []string{"op", "code"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "query_duration_seconds",
			Help:      "Query latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Query results served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_misses_total",
			Help:      "Query results computed.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshots_total",
			Help:      "Snapshot saves and loads by outcome.",
		}, []string{"op", "outcome"}),
	}
	m.registry.MustRegister(
		m.builds, m.buildDuration, m.truncations,
		m.nodes, m.edges, m.generation,
		m.queries, m.queryDuration,
		m.cacheHits, m.cacheMisses, m.snapshots,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *metrics) observeBuild(res *builder.Result, err error) {
	if err != nil {
		m.builds.WithLabelValues(string(graph.Code(err))).Inc()
		return
	}
	m.builds.WithLabelValues(string(graph.CodeOK)).Inc()
	m.buildDuration.Observe(res.Duration.Seconds())
	t := res.Truncation
	for batch, c := range map[string]builder.Cap{
		"customers":    t.Customers,
		"products":     t.Products,
		"transactions": t.Transactions,
	} {
		if c.Applied {
			m.truncations.WithLabelValues(batch).Inc()
		}
	}
}

func (m *metrics) observeGraph(g *graph.Graph, generation uint64) {
	m.nodes.Reset()
	for kind, n := range g.NodeCountsByKind() {
		m.nodes.WithLabelValues(kind).Set(float64(n))
	}
	m.edges.Reset()
	for kind, n := range g.EdgeCountsByKind() {
		m.edges.WithLabelValues(kind).Set(float64(n))
	}
	m.generation.Set(float64(generation))
}

func (m *metrics) observeQuery(op string, start time.Time, err error) {
	m.queries.WithLabelValues(op, string(graph.Code(err))).Inc()
	m.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metrics) observeSnapshot(op string, err error) {
	m.snapshots.WithLabelValues(op, string(graph.Code(err))).Inc()
}
