package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// CustomerProfile is the customer node's attribute set.
type CustomerProfile struct {
	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	TotalSpent   float64   `json:"total_spent"`
	TotalOrders  int       `json:"total_orders"`
	Region       string    `json:"region,omitempty"`
	Status       string    `json:"status"`
}

// Purchase is one PURCHASED edge seen from the customer side.
type Purchase struct {
	TransactionID string          `json:"transaction_id"`
	ProductID     graph.ProductID `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Amount        float64         `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status,omitempty"`
}

// SimilarCustomer is a direct SIMILAR_TO neighbour.
type SimilarCustomer struct {
	CustomerID     graph.CustomerID `json:"customer_id"`
	Score          float64          `json:"score"`
	SharedProducts int              `json:"shared_products"`
}

// CoPurchase is a product reached through other buyers, with the number of
// distinct buyers that led to it.
type CoPurchase struct {
	ProductID graph.ProductID `json:"product_id"`
	Buyers    int             `json:"buyers"`
}

// Recommendation is a product scored by similarity-weighted spend.
type Recommendation struct {
	ProductID graph.ProductID `json:"product_id"`
	Score     float64         `json:"score"`
}

// CustomerInsights is the result of Engine.CustomerInsights.
type CustomerInsights struct {
	CustomerID       graph.CustomerID  `json:"customer_id"`
	Profile          CustomerProfile   `json:"profile"`
	PurchaseHistory  []Purchase        `json:"purchase_history"`
	SimilarCustomers []SimilarCustomer `json:"similar_customers"`
	CoPurchases      []CoPurchase      `json:"co_purchases"`
	Recommendations  []Recommendation  `json:"recommendations"`
	Insights         []string          `json:"insights"`
}

// NoCustomerHistoryInsight is reported for customers without purchases.
const NoCustomerHistoryInsight = "No purchase history yet; insights will appear after the first order"

// customerFacts are the aggregates the insight rules look at.
type customerFacts struct {
	spend        float64
	orders       int
	sinceLast    time.Duration
	favourite    graph.CategoryName
	favouriteN   int
	similarCount int
}

type customerRule struct {
	applies func(f *customerFacts, o *Options) bool
	text    func(f *customerFacts) string
}

// customerRules are evaluated in order; every matching rule contributes one
// insight.
var customerRules = []customerRule{
	{
		applies: func(f *customerFacts, o *Options) bool { return f.spend >= o.HighValueSpend },
		text: func(f *customerFacts) string {
			return fmt.Sprintf("High-value customer: %.2f spent across %d purchases", f.spend, f.orders)
		},
	},
	{
		applies: func(f *customerFacts, o *Options) bool { return f.orders >= o.FrequentOrders },
		text:    func(f *customerFacts) string { return fmt.Sprintf("Frequent buyer with %d purchases", f.orders) },
	},
	{
		applies: func(f *customerFacts, o *Options) bool { return f.sinceLast > o.ChurnAfter },
		text: func(f *customerFacts) string {
			return fmt.Sprintf("No purchase in %d days; churn risk", days(f.sinceLast))
		},
	},
	{
		applies: func(f *customerFacts, o *Options) bool { return f.sinceLast <= o.RecentWithin },
		text:    func(*customerFacts) string { return "Recently active" },
	},
	{
		applies: func(f *customerFacts, _ *Options) bool { return f.favourite != "" },
		text: func(f *customerFacts) string {
			return fmt.Sprintf("Favourite category: %s (%d purchases)", f.favourite, f.favouriteN)
		},
	},
	{
		applies: func(f *customerFacts, _ *Options) bool { return f.similarCount > 0 },
		text: func(f *customerFacts) string {
			return fmt.Sprintf("Shares purchase patterns with %d similar customers", f.similarCount)
		},
	},
}

func days(d time.Duration) int { return int(d.Hours() / 24) }

// CustomerInsights returns the profile, purchases, neighbourhood and
// recommendations of one customer.
func (e *Engine) CustomerInsights(id graph.CustomerID) (out *CustomerInsights, err error) {
	defer e.guard("customer insights", &err)
	if err := e.ready(); err != nil {
		return nil, err
	}
	idx, ok := e.g.Lookup(graph.KindCustomer, string(id))
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, graph.ErrNotFound)
	}

	attrs := e.g.Node(idx).Customer()
	out = &CustomerInsights{
		CustomerID: id,
		Profile: CustomerProfile{
			RegisteredAt: attrs.RegisteredAt,
			LastActiveAt: attrs.LastActiveAt,
			TotalSpent:   attrs.TotalSpent,
			TotalOrders:  attrs.TotalOrders,
			Region:       attrs.Region,
			Status:       attrs.Status,
		},
	}

	out.PurchaseHistory = e.purchaseHistory(idx)
	out.SimilarCustomers = e.similarCustomers(idx)
	out.CoPurchases = e.coPurchases(idx)
	out.Recommendations = e.recommendations(idx)
	out.Insights = e.customerInsights(out)
	return out, nil
}

func (e *Engine) purchaseHistory(idx graph.NodeIndex) []Purchase {
	edges := e.g.Outgoing(idx, graph.EdgePurchased)
	history := make([]Purchase, 0, len(edges))
	for _, edge := range edges {
		p := edge.Purchase()
		history = append(history, Purchase{
			TransactionID: p.TransactionID,
			ProductID:     graph.ProductID(e.g.Node(edge.To).ID),
			Quantity:      p.Quantity,
			Amount:        p.Amount,
			Timestamp:     p.Timestamp,
			Status:        p.Status,
		})
	}
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].Timestamp.Equal(history[j].Timestamp) {
			return history[i].Timestamp.Before(history[j].Timestamp)
		}
		return history[i].TransactionID < history[j].TransactionID
	})
	return history
}

func (e *Engine) similarCustomers(idx graph.NodeIndex) []SimilarCustomer {
	edges := e.g.Similar(idx)
	out := make([]SimilarCustomer, 0, len(edges))
	for _, edge := range edges {
		s := edge.Similarity()
		out = append(out, SimilarCustomer{
			CustomerID:     graph.CustomerID(e.g.Node(edge.Other(idx)).ID),
			Score:          s.Score,
			SharedProducts: s.SharedProducts,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	return out
}

// coPurchases walks customer → products → other buyers → their products and
// counts, per product the customer does not own, the distinct buyers that
// reach it.
func (e *Engine) coPurchases(idx graph.NodeIndex) []CoPurchase {
	owned := e.productsOf(idx)
	reachedBy := make(map[graph.NodeIndex]map[graph.NodeIndex]struct{})

	for product := range owned {
		for buyer := range e.buyersOf(product) {
			if buyer == idx {
				continue
			}
			for other := range e.productsOf(buyer) {
				if _, mine := owned[other]; mine {
					continue
				}
				set, ok := reachedBy[other]
				if !ok {
					set = make(map[graph.NodeIndex]struct{})
					reachedBy[other] = set
				}
				set[buyer] = struct{}{}
			}
		}
	}

	counts := make(tally[graph.ProductID], len(reachedBy))
	for product, buyers := range reachedBy {
		counts[graph.ProductID(e.g.Node(product).ID)] = float64(len(buyers))
	}
	top := counts.top(e.opts.TopN)
	out := make([]CoPurchase, 0, len(top))
	for _, r := range top {
		out = append(out, CoPurchase{ProductID: r.key, Buyers: int(r.score)})
	}
	return out
}

// recommendations accumulates score × amount from every similar customer's
// purchases onto products the target has not bought.
func (e *Engine) recommendations(idx graph.NodeIndex) []Recommendation {
	owned := e.productsOf(idx)
	scores := make(tally[graph.ProductID])

	for _, edge := range e.g.Similar(idx) {
		score := edge.Similarity().Score
		for _, purchase := range e.g.Outgoing(edge.Other(idx), graph.EdgePurchased) {
			if _, mine := owned[purchase.To]; mine {
				continue
			}
			scores[graph.ProductID(e.g.Node(purchase.To).ID)] += score * purchase.Purchase().Amount
		}
	}

	top := scores.top(e.opts.TopN)
	out := make([]Recommendation, 0, len(top))
	for _, r := range top {
		out = append(out, Recommendation{ProductID: r.key, Score: r.score})
	}
	return out
}

func (e *Engine) customerInsights(ci *CustomerInsights) []string {
	if len(ci.PurchaseHistory) == 0 {
		return []string{NoCustomerHistoryInsight}
	}

	f := customerFacts{orders: len(ci.PurchaseHistory), similarCount: len(ci.SimilarCustomers)}
	perCategory := make(map[graph.CategoryName]int)
	var last time.Time
	for _, p := range ci.PurchaseHistory {
		f.spend += p.Amount
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
		if pidx, ok := e.g.Lookup(graph.KindProduct, string(p.ProductID)); ok {
			if cat, ok := e.categoryOf(pidx); ok {
				perCategory[cat]++
			}
		}
	}
	f.sinceLast = e.g.AsOf().Sub(last)
	for cat, n := range perCategory {
		if n > f.favouriteN || (n == f.favouriteN && cat < f.favourite) {
			f.favourite, f.favouriteN = cat, n
		}
	}

	var insights []string
	for _, rule := range customerRules {
		if rule.applies(&f, &e.opts) {
			insights = append(insights, rule.text(&f))
		}
	}
	return insights
}
