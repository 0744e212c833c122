package query

import (
	"fmt"
	"sort"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// ProductProfile is the product node's attribute set.
type ProductProfile struct {
	Name     string             `json:"name,omitempty"`
	Category graph.CategoryName `json:"category"`
	Price    float64            `json:"price"`
	Stock    int                `json:"stock"`
	Rating   float64            `json:"rating"`
	Status   string             `json:"status"`
}

// CustomerPurchases aggregates one customer's purchases of a product.
type CustomerPurchases struct {
	CustomerID graph.CustomerID `json:"customer_id"`
	Purchases  int              `json:"purchases"`
	Quantity   int              `json:"quantity"`
	Amount     float64          `json:"amount"`
}

// ProductMetrics are the sales totals of a product.
type ProductMetrics struct {
	Purchases int     `json:"purchases"`
	UnitsSold int     `json:"units_sold"`
	Revenue   float64 `json:"revenue"`
	Buyers    int     `json:"buyers"`
}

// ProductIntelligence is the result of Engine.ProductIntelligence.
type ProductIntelligence struct {
	ProductID           graph.ProductID      `json:"product_id"`
	Profile             ProductProfile       `json:"profile"`
	PurchasingCustomers []CustomerPurchases  `json:"purchasing_customers"`
	Categories          []graph.CategoryName `json:"categories"`
	CoPurchased         []CoPurchase         `json:"co_purchased"`
	Metrics             ProductMetrics       `json:"metrics"`
	Insights            []string             `json:"insights"`
}

// NoProductActivityInsight is reported for products nobody has bought.
const NoProductActivityInsight = "No purchase activity recorded for this product yet"

type productRule struct {
	applies func(p *ProductIntelligence, o *Options) bool
	text    func(p *ProductIntelligence) string
}

var productRules = []productRule{
	{
		applies: func(p *ProductIntelligence, o *Options) bool { return p.Metrics.UnitsSold >= o.BestSellerUnits },
		text:    func(p *ProductIntelligence) string { return fmt.Sprintf("Best seller: %d units sold", p.Metrics.UnitsSold) },
	},
	{
		applies: func(p *ProductIntelligence, o *Options) bool { return p.Metrics.Revenue >= o.HighRevenue },
		text:    func(p *ProductIntelligence) string { return fmt.Sprintf("High revenue: %.2f", p.Metrics.Revenue) },
	},
	{
		applies: func(p *ProductIntelligence, o *Options) bool { return p.Metrics.Buyers >= o.BroadAppeal },
		text: func(p *ProductIntelligence) string {
			return fmt.Sprintf("Broad appeal: bought by %d customers", p.Metrics.Buyers)
		},
	},
	{
		applies: func(p *ProductIntelligence, o *Options) bool {
			return p.Profile.Status == graph.StatusActive && p.Profile.Stock < o.LowStock
		},
		text: func(p *ProductIntelligence) string {
			return fmt.Sprintf("Low stock: %d units left", p.Profile.Stock)
		},
	},
	{
		applies: func(p *ProductIntelligence, o *Options) bool { return p.Profile.Rating >= o.HighRating },
		text:    func(p *ProductIntelligence) string { return fmt.Sprintf("Highly rated (%.1f)", p.Profile.Rating) },
	},
	{
		applies: func(p *ProductIntelligence, o *Options) bool {
			return p.Profile.Rating > 0 && p.Profile.Rating <= o.LowRating
		},
		text: func(p *ProductIntelligence) string {
			return fmt.Sprintf("Poorly rated (%.1f); review quality", p.Profile.Rating)
		},
	},
}

// ProductIntelligence returns the buyers, categories, co-purchases and sales
// metrics of one product. A product without purchases is not an error.
func (e *Engine) ProductIntelligence(id graph.ProductID) (out *ProductIntelligence, err error) {
	defer e.guard("product intelligence", &err)
	if err := e.ready(); err != nil {
		return nil, err
	}
	idx, ok := e.g.Lookup(graph.KindProduct, string(id))
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, graph.ErrNotFound)
	}

	attrs := e.g.Node(idx).Product()
	out = &ProductIntelligence{
		ProductID: id,
		Profile: ProductProfile{
			Name:     attrs.Name,
			Category: attrs.Category,
			Price:    attrs.Price,
			Stock:    attrs.Stock,
			Rating:   attrs.Rating,
			Status:   attrs.Status,
		},
		Categories: []graph.CategoryName{},
	}
	for _, edge := range e.g.Outgoing(idx, graph.EdgeBelongsTo) {
		out.Categories = append(out.Categories, graph.CategoryName(e.g.Node(edge.To).ID))
	}

	out.PurchasingCustomers = e.purchasingCustomers(idx, &out.Metrics)
	out.CoPurchased = e.coPurchased(idx)

	if out.Metrics.Purchases == 0 {
		out.Insights = append(out.Insights, NoProductActivityInsight)
	}
	for _, rule := range productRules {
		if rule.applies(out, &e.opts) {
			out.Insights = append(out.Insights, rule.text(out))
		}
	}
	if len(out.Insights) == 0 {
		out.Insights = append(out.Insights, fmt.Sprintf("Moderate activity: %d units sold to %d customers",
			out.Metrics.UnitsSold, out.Metrics.Buyers))
	}
	return out, nil
}

func (e *Engine) purchasingCustomers(idx graph.NodeIndex, m *ProductMetrics) []CustomerPurchases {
	byCustomer := make(map[graph.NodeIndex]*CustomerPurchases)
	for _, edge := range e.g.Incoming(idx, graph.EdgePurchased) {
		p := edge.Purchase()
		agg, ok := byCustomer[edge.From]
		if !ok {
			agg = &CustomerPurchases{CustomerID: graph.CustomerID(e.g.Node(edge.From).ID)}
			byCustomer[edge.From] = agg
		}
		agg.Purchases++
		agg.Quantity += p.Quantity
		agg.Amount += p.Amount

		m.Purchases++
		m.UnitsSold += p.Quantity
		m.Revenue += p.Amount
	}
	m.Buyers = len(byCustomer)

	out := make([]CustomerPurchases, 0, len(byCustomer))
	for _, agg := range byCustomer {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	return out
}

// coPurchased counts, for every other product bought by this product's
// buyers, how many distinct buyers bought both.
func (e *Engine) coPurchased(idx graph.NodeIndex) []CoPurchase {
	counts := make(tally[graph.ProductID])
	for buyer := range e.buyersOf(idx) {
		for other := range e.productsOf(buyer) {
			if other == idx {
				continue
			}
			counts[graph.ProductID(e.g.Node(other).ID)]++
		}
	}
	top := counts.top(e.opts.TopN)
	out := make([]CoPurchase, 0, len(top))
	for _, r := range top {
		out = append(out, CoPurchase{ProductID: r.key, Buyers: int(r.score)})
	}
	return out
}
