package linkpredict

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// memorySink records edges without a graph.
type memorySink struct {
	edges map[[2]graph.CustomerID]float64
	order [][2]graph.CustomerID
}

func newMemorySink() *memorySink {
	return &memorySink{edges: make(map[[2]graph.CustomerID]float64)}
}

func (s *memorySink) AddCustomerSimilarity(a, b graph.CustomerID, score float64, shared int) error {
	if a > b {
		a, b = b, a
	}
	key := [2]graph.CustomerID{a, b}
	if _, ok := s.edges[key]; ok {
		return graph.ErrDuplicate
	}
	s.edges[key] = score
	s.order = append(s.order, key)
	return nil
}

func (s *memorySink) SimilarityCount() int { return len(s.edges) }

func txn(id string, c graph.CustomerID, p graph.ProductID) graph.Transaction {
	return graph.Transaction{ID: id, CustomerID: c, ProductID: p, Quantity: 1, Amount: 10, Timestamp: time.Unix(0, 0)}
}

// identicalBaskets gives every customer the same two products, so every
// compared pair qualifies with score 1.0.
func identicalBaskets(customers int) []graph.Transaction {
	var txns []graph.Transaction
	for i := 0; i < customers; i++ {
		c := graph.CustomerID(fmt.Sprintf("c%03d", i))
		txns = append(txns, txn(fmt.Sprintf("t%d-x", i), c, "x"), txn(fmt.Sprintf("t%d-y", i), c, "y"))
	}
	return txns
}

func TestJaccard(t *testing.T) {
	a := ProductSet{"bike": {}, "helmet": {}, "pump": {}, "gloves": {}}
	b := ProductSet{"bike": {}, "helmet": {}, "pump": {}, "lock": {}}

	shared, score := Jaccard(a, b)
	if shared != 3 {
		t.Errorf("Expected 3 shared, got %d", shared)
	}
	if score < 0.599 || score > 0.601 {
		t.Errorf("Expected score 0.6, got %.3f", score)
	}

	if _, s := Jaccard(ProductSet{}, ProductSet{}); s != 0 {
		t.Errorf("Expected 0 for empty sets, got %.3f", s)
	}
}

func TestRankCandidates(t *testing.T) {
	sets := map[graph.CustomerID]ProductSet{
		"b": {"x": {}, "y": {}},
		"a": {"x": {}, "y": {}},
		"c": {"x": {}, "y": {}, "z": {}},
		"d": {"x": {}},
		"e": {},
	}

	ranked := RankCandidates(sets, 10)
	want := []graph.CustomerID{"c", "a", "b", "d"}
	if len(ranked) != len(want) {
		t.Fatalf("Expected %d candidates, got %d", len(want), len(ranked))
	}
	for i, id := range want {
		if ranked[i].Customer != id {
			t.Errorf("rank %d: expected %s, got %s", i, id, ranked[i].Customer)
		}
	}

	if got := RankCandidates(sets, 2); len(got) != 2 {
		t.Errorf("Expected limit 2, got %d", len(got))
	}
}

func TestComputeSimilaritiesScenario(t *testing.T) {
	// A buys X twice and Y once, B buys X and Y, C buys nothing.
	txns := []graph.Transaction{
		txn("t1", "A", "X"),
		txn("t2", "A", "X"),
		txn("t3", "A", "Y"),
		txn("t4", "B", "X"),
		txn("t5", "B", "Y"),
	}
	sink := newMemorySink()

	stats, err := ComputeSimilarities(context.Background(), sink, txns, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("ComputeSimilarities failed: %v", err)
	}
	if stats.EdgesCreated != 1 {
		t.Fatalf("Expected 1 edge, got %d", stats.EdgesCreated)
	}
	if score := sink.edges[[2]graph.CustomerID{"A", "B"}]; score != 1.0 {
		t.Errorf("Expected score 1.0, got %.3f", score)
	}
}

func TestComputeSimilaritiesThresholds(t *testing.T) {
	txns := []graph.Transaction{
		// one shared product only
		txn("1", "a", "x"), txn("2", "a", "y"),
		txn("3", "b", "x"), txn("4", "b", "z"),
		// two shared out of six distinct: 2/6 = 0.33
		txn("5", "c", "p1"), txn("6", "c", "p2"), txn("7", "c", "p3"), txn("8", "c", "p4"),
		txn("9", "d", "p1"), txn("10", "d", "p2"), txn("11", "d", "p5"), txn("12", "d", "p6"),
	}

	cfg := DefaultConfig()
	sink := newMemorySink()
	if _, err := ComputeSimilarities(context.Background(), sink, txns, cfg, nil); err != nil {
		t.Fatalf("ComputeSimilarities failed: %v", err)
	}
	if _, ok := sink.edges[[2]graph.CustomerID{"a", "b"}]; ok {
		t.Error("Pair below min shared must not be linked")
	}
	if _, ok := sink.edges[[2]graph.CustomerID{"c", "d"}]; !ok {
		t.Error("Expected c-d to be linked")
	}

	cfg.MinScore = 0.5
	sink = newMemorySink()
	if _, err := ComputeSimilarities(context.Background(), sink, txns, cfg, nil); err != nil {
		t.Fatalf("ComputeSimilarities failed: %v", err)
	}
	if len(sink.edges) != 0 {
		t.Errorf("Expected no edges above 0.5, got %d", len(sink.edges))
	}
}

func TestComputeSimilaritiesGlobalCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalCap = 7
	sink := newMemorySink()

	stats, err := ComputeSimilarities(context.Background(), sink, identicalBaskets(50), cfg, nil)
	if err != nil {
		t.Fatalf("ComputeSimilarities failed: %v", err)
	}
	if sink.SimilarityCount() != 7 {
		t.Errorf("Expected exactly 7 edges, got %d", sink.SimilarityCount())
	}
	if !stats.CapReached {
		t.Error("Expected CapReached")
	}
}

func TestComputeSimilaritiesWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.Lookahead = 2
	cfg.GlobalCap = 1 << 20
	sink := newMemorySink()

	const n = 10
	stats, err := ComputeSimilarities(context.Background(), sink, identicalBaskets(n), cfg, nil)
	if err != nil {
		t.Fatalf("ComputeSimilarities failed: %v", err)
	}

	// batch [0,4) window 6: 5+4+3+2 = 14
	// batch [4,8) window 10: 5+4+3+2 = 14
	// batch [8,10) window 10: 1+0 = 1
	if stats.PairsCompared != 29 {
		t.Errorf("Expected 29 comparisons, got %d", stats.PairsCompared)
	}
	if stats.Batches != 3 {
		t.Errorf("Expected 3 batches, got %d", stats.Batches)
	}
	if len(sink.edges) != 29 {
		t.Errorf("Expected 29 edges, got %d", len(sink.edges))
	}
	if _, ok := sink.edges[[2]graph.CustomerID{"c000", "c009"}]; ok {
		t.Error("Pair outside the lookahead window must not be compared")
	}

	perBatch := cfg.BatchSize * (cfg.BatchSize/2 + cfg.Lookahead)
	if stats.PairsCompared > stats.Batches*perBatch {
		t.Errorf("Comparisons %d exceed bound %d", stats.PairsCompared, stats.Batches*perBatch)
	}
}

func TestComputeSimilaritiesMaxCandidates(t *testing.T) {
	txns := identicalBaskets(5)
	// a less active customer with a single product
	txns = append(txns, txn("solo", "z", "x"))

	cfg := DefaultConfig()
	cfg.MinShared = 1
	cfg.MaxCandidates = 5
	sink := newMemorySink()

	stats, err := ComputeSimilarities(context.Background(), sink, txns, cfg, nil)
	if err != nil {
		t.Fatalf("ComputeSimilarities failed: %v", err)
	}
	if stats.Candidates != 5 {
		t.Errorf("Expected 5 candidates, got %d", stats.Candidates)
	}
	for key := range sink.edges {
		if key[0] == "z" || key[1] == "z" {
			t.Errorf("Customer outside candidate set got an edge: %v", key)
		}
	}
}

func TestComputeSimilaritiesDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalCap = 10

	first := newMemorySink()
	second := newMemorySink()
	if _, err := ComputeSimilarities(context.Background(), first, identicalBaskets(30), cfg, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ComputeSimilarities(context.Background(), second, identicalBaskets(30), cfg, nil); err != nil {
		t.Fatal(err)
	}
	for i := range first.order {
		if first.order[i] != second.order[i] {
			t.Fatalf("Edge %d differs: %v vs %v", i, first.order[i], second.order[i])
		}
	}
}

func TestComputeSimilaritiesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ComputeSimilarities(ctx, newMemorySink(), identicalBaskets(10), DefaultConfig(), nil)
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{MinShared: 0, BatchSize: 1},
		{MinShared: 1, BatchSize: 0},
		{MinShared: 1, BatchSize: 1, MinScore: 1},
		{MinShared: 1, BatchSize: 1, Lookahead: -1},
		{MinShared: 1, BatchSize: 1, GlobalCap: -1},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %d: expected validation error", i)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestGraphSink(t *testing.T) {
	g := graph.New()
	a, _, _ := g.EnsureCustomer("a")
	b, _, _ := g.EnsureCustomer("b")
	sink := GraphSink(g)

	if err := sink.AddCustomerSimilarity("a", "b", 0.5, 2); err != nil {
		t.Fatalf("AddCustomerSimilarity failed: %v", err)
	}
	if sink.SimilarityCount() != 1 {
		t.Errorf("Expected 1 similarity, got %d", sink.SimilarityCount())
	}
	if len(g.Similar(a)) != 1 || len(g.Similar(b)) != 1 {
		t.Error("Expected similarity indexed at both endpoints")
	}
	if err := sink.AddCustomerSimilarity("a", "missing", 0.5, 2); err == nil {
		t.Error("Expected error for unknown customer")
	}
}
