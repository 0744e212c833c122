package bizgraph

import (
	"fmt"
	"time"

	"github.com/orneryd/bizgraph/pkg/cache"
	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/query"
	"github.com/orneryd/bizgraph/pkg/reasoning"
)

// Operation names used for cache keys and metrics labels.
const (
	OpCustomerInsights    = "customer_insights"
	OpProductIntelligence = "product_intelligence"
	OpGraphSummary        = "graph_summary"
	OpCustomerJourney     = "customer_journey"
	OpBusinessInsights    = "business_insights"
)

// cached runs fn against the current snapshot, memoising the result under
// the snapshot's generation. Cached results are shared between callers and
// must not be modified.
func cached[T any](s *Service, op, arg string, fn func(*snapshot) (T, error)) (out T, err error) {
	start := time.Now()
	defer func() { s.metrics.observeQuery(op, start, err) }()

	snap := s.current.Load()
	if snap == nil {
		return out, fmt.Errorf("%s: %w", op, graph.ErrGraphNotBuilt)
	}
	key := cache.Key(snap.generation, op, arg)
	if v, ok := s.cache.Get(key); ok {
		s.metrics.cacheHits.Inc()
		return v.(T), nil
	}
	s.metrics.cacheMisses.Inc()

	out, err = fn(snap)
	if err != nil {
		return out, err
	}
	s.cache.Put(key, out)
	return out, nil
}

// CustomerInsights answers query.Engine.CustomerInsights on the active graph.
func (s *Service) CustomerInsights(id graph.CustomerID) (*query.CustomerInsights, error) {
	return cached(s, OpCustomerInsights, string(id), func(snap *snapshot) (*query.CustomerInsights, error) {
		return snap.engine.CustomerInsights(id)
	})
}

// ProductIntelligence answers query.Engine.ProductIntelligence on the active
// graph.
func (s *Service) ProductIntelligence(id graph.ProductID) (*query.ProductIntelligence, error) {
	return cached(s, OpProductIntelligence, string(id), func(snap *snapshot) (*query.ProductIntelligence, error) {
		return snap.engine.ProductIntelligence(id)
	})
}

// GraphSummary summarises the active graph.
func (s *Service) GraphSummary() (*query.GraphSummary, error) {
	return cached(s, OpGraphSummary, "", func(snap *snapshot) (*query.GraphSummary, error) {
		return snap.engine.GraphSummary()
	})
}

// CustomerJourney runs the journey rules over the active graph's
// transactions.
func (s *Service) CustomerJourney(id graph.CustomerID) (*reasoning.Journey, error) {
	return cached(s, OpCustomerJourney, string(id), func(snap *snapshot) (*reasoning.Journey, error) {
		return reasoning.AnalyzeCustomerJourney(id, snap.graph.Transactions())
	})
}

// BusinessInsights runs the business rules over the active graph's
// transactions.
func (s *Service) BusinessInsights() (*reasoning.BusinessInsights, error) {
	return cached(s, OpBusinessInsights, "", func(snap *snapshot) (*reasoning.BusinessInsights, error) {
		return reasoning.GenerateBusinessInsights(snap.graph.Transactions())
	})
}
