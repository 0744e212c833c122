package linkpredict

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// Config bounds the similarity computation. Every field is a resource guard
// and is exposed through the service configuration.
type Config struct {
	// MinShared is the minimum number of shared products for an edge.
	MinShared int `yaml:"min_shared"`
	// MinScore is the Jaccard score an edge must exceed.
	MinScore float64 `yaml:"min_score"`
	// MaxCandidates keeps only the most active customers.
	MaxCandidates int `yaml:"max_candidates"`
	// BatchSize is the number of candidates processed per batch.
	BatchSize int `yaml:"batch_size"`
	// Lookahead is how many candidates past the end of a batch each member
	// of the batch is still compared with.
	Lookahead int `yaml:"lookahead"`
	// GlobalCap stops the computation once this many edges exist.
	GlobalCap int `yaml:"global_cap"`
}

// DefaultConfig returns the bounds used in production.
func DefaultConfig() Config {
	return Config{
		MinShared:     2,
		MinScore:      0.2,
		MaxCandidates: 1000,
		BatchSize:     100,
		Lookahead:     100,
		GlobalCap:     5000,
	}
}

// Validate rejects bounds that would make the computation unbounded or empty.
func (c Config) Validate() error {
	switch {
	case c.MinShared < 1:
		return fmt.Errorf("min shared must be >= 1, got %d: %w", c.MinShared, graph.ErrValidation)
	case c.MinScore < 0 || c.MinScore >= 1:
		return fmt.Errorf("min score must be in [0,1), got %v: %w", c.MinScore, graph.ErrValidation)
	case c.MaxCandidates < 0:
		return fmt.Errorf("max candidates must be >= 0, got %d: %w", c.MaxCandidates, graph.ErrValidation)
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be >= 1, got %d: %w", c.BatchSize, graph.ErrValidation)
	case c.Lookahead < 0:
		return fmt.Errorf("lookahead must be >= 0, got %d: %w", c.Lookahead, graph.ErrValidation)
	case c.GlobalCap < 0:
		return fmt.Errorf("global cap must be >= 0, got %d: %w", c.GlobalCap, graph.ErrValidation)
	}
	return nil
}

// Sink receives similarity edges.
type Sink interface {
	AddCustomerSimilarity(a, b graph.CustomerID, score float64, shared int) error
	SimilarityCount() int
}

// GraphSink adapts a writable graph to Sink.
func GraphSink(g *graph.Graph) Sink {
	return graphSink{g: g}
}

type graphSink struct {
	g *graph.Graph
}

func (s graphSink) AddCustomerSimilarity(a, b graph.CustomerID, score float64, shared int) error {
	ai, ok := s.g.Lookup(graph.KindCustomer, string(a))
	if !ok {
		return fmt.Errorf("customer %s: %w", a, graph.ErrNotFound)
	}
	bi, ok := s.g.Lookup(graph.KindCustomer, string(b))
	if !ok {
		return fmt.Errorf("customer %s: %w", b, graph.ErrNotFound)
	}
	return s.g.AddSimilarity(ai, bi, score, shared)
}

func (s graphSink) SimilarityCount() int {
	return s.g.SimilarityCount()
}

// Stats describes one similarity pass.
type Stats struct {
	Customers     int  `json:"customers"`
	Candidates    int  `json:"candidates"`
	Batches       int  `json:"batches"`
	PairsCompared int  `json:"pairs_compared"`
	EdgesCreated  int  `json:"edges_created"`
	CapReached    bool `json:"cap_reached"`
}

// Candidate is a customer selected for comparison.
type Candidate struct {
	Customer graph.CustomerID
	Products ProductSet
}

// RankCandidates orders customers by the size of their purchase set,
// largest first, ties broken by ascending customer id, and keeps the first
// limit entries. A limit of 0 keeps nobody.
func RankCandidates(sets map[graph.CustomerID]ProductSet, limit int) []Candidate {
	ranked := make([]Candidate, 0, len(sets))
	for id, s := range sets {
		if len(s) == 0 {
			continue
		}
		ranked = append(ranked, Candidate{Customer: id, Products: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if len(ranked[i].Products) != len(ranked[j].Products) {
			return len(ranked[i].Products) > len(ranked[j].Products)
		}
		return ranked[i].Customer < ranked[j].Customer
	})
	if limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}

// ComputeSimilarities adds SIMILAR_TO edges to sink from the purchase sets in
// txns.
//
// Window semantics: the ranked candidates are cut into consecutive batches of
// cfg.BatchSize. The candidate at rank i inside batch [s, e) is compared with
// every rank j such that i < j < min(e+cfg.Lookahead, n). A pair is therefore
// produced at most once, always from its lower rank, and a batch costs at most
// BatchSize × (BatchSize/2 + Lookahead) comparisons. Pairs further apart than
// the window are never compared; this is an approximation of all-pairs
// similarity, not an exhaustive one.
//
// An edge is created when shared >= cfg.MinShared and the Jaccard score is
// strictly greater than cfg.MinScore. The pass stops as soon as the sink holds
// cfg.GlobalCap similarity edges. ctx is checked at every batch boundary.
func ComputeSimilarities(ctx context.Context, sink Sink, txns []graph.Transaction, cfg Config, logger *zap.Logger) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}

	sets := PurchaseSets(txns)
	candidates := RankCandidates(sets, cfg.MaxCandidates)
	stats := Stats{Customers: len(sets), Candidates: len(candidates)}

	n := len(candidates)
	if sink.SimilarityCount() >= cfg.GlobalCap {
		stats.CapReached = true
		return stats, nil
	}

	for start := 0; start < n; start += cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+cfg.BatchSize, n)
		window := min(end+cfg.Lookahead, n)
		stats.Batches++

		for i := start; i < end; i++ {
			a := candidates[i]
			for j := i + 1; j < window; j++ {
				b := candidates[j]
				stats.PairsCompared++

				shared, score := Jaccard(a.Products, b.Products)
				if shared < cfg.MinShared || score <= cfg.MinScore {
					continue
				}
				if err := sink.AddCustomerSimilarity(a.Customer, b.Customer, score, shared); err != nil {
					if errors.Is(err, graph.ErrDuplicate) {
						continue
					}
					return stats, fmt.Errorf("similarity %s-%s: %w", a.Customer, b.Customer, err)
				}
				stats.EdgesCreated++

				if sink.SimilarityCount() >= cfg.GlobalCap {
					stats.CapReached = true
					logger.Info("similarity cap reached",
						zap.Int("cap", cfg.GlobalCap),
						zap.Int("batch", stats.Batches),
						zap.Int("pairs_compared", stats.PairsCompared))
					return stats, nil
				}
			}
		}
		logger.Debug("similarity batch done",
			zap.Int("batch", stats.Batches),
			zap.Int("edges", stats.EdgesCreated))
	}

	return stats, nil
}
