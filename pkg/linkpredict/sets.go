// Package linkpredict derives customer-to-customer similarity links from
// purchase behaviour.
//
// Two customers are considered similar when the sets of products they bought
// overlap. The overlap is measured with the Jaccard coefficient:
//
//	Jaccard(A, B) = |A ∩ B| / |A ∪ B|
//
// Comparing every pair of customers is O(n²) in time and in the number of
// candidate edges, so the engine in this package deliberately trades
// completeness for a bounded cost: only the most active customers are
// compared, only within a sliding window, and only until a global edge cap
// is reached. See ComputeSimilarities for the exact window semantics.
//
// ELI12:
//
// You and Sam both bought a bike, a helmet and a pump. You also bought
// gloves, Sam also bought a lock. Together you bought 5 different things and
// 3 of them are the same, so your Jaccard score is 3/5 = 0.6. If the shop
// only has time to compare the 1000 busiest shoppers, people who bought a
// single item once never get compared at all. That is the price of finishing
// quickly.
package linkpredict

import (
	"sort"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// ProductSet is a set of product ids.
type ProductSet map[graph.ProductID]struct{}

// Add inserts id into the set.
func (s ProductSet) Add(id graph.ProductID) {
	s[id] = struct{}{}
}

// Contains reports whether id is in the set.
func (s ProductSet) Contains(id graph.ProductID) bool {
	_, ok := s[id]
	return ok
}

// Size returns the number of products in the set.
func (s ProductSet) Size() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s ProductSet) Sorted() []graph.ProductID {
	out := make([]graph.ProductID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Intersection returns |a ∩ b|, iterating over the smaller set.
func Intersection(a, b ProductSet) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for id := range a {
		if _, ok := b[id]; ok {
			n++
		}
	}
	return n
}

// Jaccard returns the shared count and the Jaccard coefficient of a and b.
// Two empty sets score 0.
func Jaccard(a, b ProductSet) (shared int, score float64) {
	shared = Intersection(a, b)
	union := len(a) + len(b) - shared
	if union == 0 {
		return shared, 0
	}
	return shared, float64(shared) / float64(union)
}

// PurchaseSets groups transactions into customer → purchased products.
func PurchaseSets(txns []graph.Transaction) map[graph.CustomerID]ProductSet {
	sets := make(map[graph.CustomerID]ProductSet)
	for _, t := range txns {
		s, ok := sets[t.CustomerID]
		if !ok {
			s = make(ProductSet)
			sets[t.CustomerID] = s
		}
		s.Add(t.ProductID)
	}
	return sets
}
