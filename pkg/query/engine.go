// Package query implements the read-only traversals over a built customer
// graph: customer insights, product intelligence and the graph summary.
//
// An Engine wraps one frozen graph. It never mutates the graph and keeps no
// state between calls, so a single Engine can serve any number of goroutines.
package query

import (
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// Options holds the ranking limit and the thresholds of the insight rules.
type Options struct {
	// TopN caps co-purchase and recommendation lists.
	TopN int `yaml:"top_n" validate:"gt=0"`

	HighValueSpend float64       `yaml:"high_value_spend"`
	FrequentOrders int           `yaml:"frequent_orders"`
	ChurnAfter     time.Duration `yaml:"churn_after"`
	RecentWithin   time.Duration `yaml:"recent_within"`

	BestSellerUnits int     `yaml:"best_seller_units"`
	HighRevenue     float64 `yaml:"high_revenue"`
	BroadAppeal     int     `yaml:"broad_appeal"`
	LowStock        int     `yaml:"low_stock"`
	HighRating      float64 `yaml:"high_rating"`
	LowRating       float64 `yaml:"low_rating"`

	Logger *zap.Logger `yaml:"-" validate:"-"`
}

// DefaultOptions returns the thresholds used in production.
func DefaultOptions() Options {
	return Options{
		TopN:            10,
		HighValueSpend:  1000,
		FrequentOrders:  10,
		ChurnAfter:      90 * 24 * time.Hour,
		RecentWithin:    30 * 24 * time.Hour,
		BestSellerUnits: 100,
		HighRevenue:     10000,
		BroadAppeal:     50,
		LowStock:        10,
		HighRating:      4.5,
		LowRating:       2.5,
	}
}

// Engine answers queries against one graph.
type Engine struct {
	g    *graph.Graph
	opts Options
	log  *zap.Logger
}

// NewEngine returns an engine over g. g may be nil or unbuilt; every query
// then fails with graph.ErrGraphNotBuilt.
func NewEngine(g *graph.Graph, opts Options) *Engine {
	if opts.TopN <= 0 {
		opts.TopN = DefaultOptions().TopN
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{g: g, opts: opts, log: log}
}

// Graph returns the graph the engine reads.
func (e *Engine) Graph() *graph.Graph { return e.g }

func (e *Engine) ready() error {
	if !e.g.Built() {
		return graph.ErrGraphNotBuilt
	}
	return nil
}

// guard turns a panic inside a query into graph.ErrInternal.
func (e *Engine) guard(op string, err *error) {
	if r := recover(); r != nil {
		e.log.Error("query panicked",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))
		*err = fmt.Errorf("%s: %v: %w", op, r, graph.ErrInternal)
	}
}

// GraphSummary describes the size and shape of the graph.
type GraphSummary struct {
	NodeCounts map[string]int `json:"node_counts"`
	EdgeCounts map[string]int `json:"edge_counts"`
	TotalNodes int            `json:"total_nodes"`
	TotalEdges int            `json:"total_edges"`

	// Density is E / (N·(N−1)). The graph is a typed directed multigraph, so
	// the value is an indicator rather than a true simple-graph density and
	// can exceed 1 with enough repeat purchases.
	Density            float64 `json:"density"`
	DensityApproximate bool    `json:"density_approximate"`

	BuildID string    `json:"build_id"`
	BuiltAt time.Time `json:"built_at"`
	AsOf    time.Time `json:"as_of"`
}

// GraphSummary returns node and edge counts and the approximate density.
func (e *Engine) GraphSummary() (s *GraphSummary, err error) {
	defer e.guard("graph summary", &err)
	if err := e.ready(); err != nil {
		return nil, err
	}

	n := e.g.NodeCount()
	m := e.g.EdgeCount()
	s = &GraphSummary{
		NodeCounts:         e.g.NodeCountsByKind(),
		EdgeCounts:         e.g.EdgeCountsByKind(),
		TotalNodes:         n,
		TotalEdges:         m,
		DensityApproximate: true,
		BuildID:            e.g.BuildID(),
		BuiltAt:            e.g.BuiltAt(),
		AsOf:               e.g.AsOf(),
	}
	if n > 1 {
		s.Density = float64(m) / (float64(n) * float64(n-1))
	}
	return s, nil
}

// tally counts scores per key and ranks them.
type tally[K ~string] map[K]float64

func (t tally[K]) top(limit int) []ranked[K] {
	out := make([]ranked[K], 0, len(t))
	for k, v := range t {
		out = append(out, ranked[K]{key: k, score: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].key < out[j].key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type ranked[K ~string] struct {
	key   K
	score float64
}

// categoryOf returns the category a product belongs to.
func (e *Engine) categoryOf(product graph.NodeIndex) (graph.CategoryName, bool) {
	for _, edge := range e.g.Outgoing(product, graph.EdgeBelongsTo) {
		return graph.CategoryName(e.g.Node(edge.To).ID), true
	}
	return "", false
}

// productsOf returns the distinct products a customer bought.
func (e *Engine) productsOf(customer graph.NodeIndex) map[graph.NodeIndex]struct{} {
	out := make(map[graph.NodeIndex]struct{})
	for _, edge := range e.g.Outgoing(customer, graph.EdgePurchased) {
		out[edge.To] = struct{}{}
	}
	return out
}

// buyersOf returns the distinct customers who bought a product.
func (e *Engine) buyersOf(product graph.NodeIndex) map[graph.NodeIndex]struct{} {
	out := make(map[graph.NodeIndex]struct{})
	for _, edge := range e.g.Incoming(product, graph.EdgePurchased) {
		out[edge.From] = struct{}{}
	}
	return out
}
